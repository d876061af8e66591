package fsutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FlattenResult counts what Flatten did.
type FlattenResult struct {
	Copied     int `json:"copied"`
	Skipped    int `json:"skipped"`
	Collisions int `json:"collisions"`
	Errors     int `json:"errors"`
}

// Flatten copies every image under src into dst. A file found in a
// subdirectory is renamed <rel_path_with_underscores>_<name>; clashes get a
// numeric suffix. Non-image files are skipped. dst may live inside src, in
// which case it is not walked.
func Flatten(ctx context.Context, src, dst string) (FlattenResult, error) {
	var res FlattenResult
	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return res, err
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return res, err
	}
	if srcAbs == dstAbs {
		return res, fmt.Errorf("flatten: destination %s is the source", dst)
	}
	if st, err := os.Stat(srcAbs); err != nil || !st.IsDir() {
		return res, fmt.Errorf("flatten: %s is not a directory", src)
	}
	if err := os.MkdirAll(dstAbs, 0o755); err != nil {
		return res, err
	}

	err = filepath.WalkDir(srcAbs, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			res.Errors++
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path == dstAbs {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsImageFile(d.Name()) {
			res.Skipped++
			return nil
		}

		rel, err := filepath.Rel(srcAbs, filepath.Dir(path))
		if err != nil {
			res.Errors++
			return nil
		}
		name := d.Name()
		if rel != "." {
			name = strings.ReplaceAll(rel, string(filepath.Separator), "_") + "_" + name
		}
		unique := UniqueName(dstAbs, name)
		if unique != name {
			res.Collisions++
		}
		if err := CopyFile(path, filepath.Join(dstAbs, unique)); err != nil {
			res.Errors++
			return nil
		}
		res.Copied++
		return nil
	})
	return res, err
}
