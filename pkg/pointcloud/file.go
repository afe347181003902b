// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pointcloud

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ReadFile reads a point cloud from the given path, choosing the format from the file extension:
// ".pcd" for PCD files, and ".xyz", ".txt" or ".csv" for XYZ text files.
func ReadFile(path string) (Cloud, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open point cloud file %q", path)
	}
	defer func() { _ = f.Close() }()

	var c Cloud
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pcd":
		var h *PCDHeader
		c, h, err = ReadPCD(f)
		if err == nil && klog.V(2).Enabled() {
			klog.Infof("read %q: pcd v%s, fields %v, %d points, data %s", path, h.Version, h.Fields, h.Points, h.Data)
		}
	case ".xyz", ".txt", ".csv":
		c, err = ReadXYZ(f)
	default:
		return nil, errors.Errorf("unknown point cloud file format %q for %q: use .pcd or .xyz", ext, path)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "reading point cloud from %q", path)
	}
	return c, nil
}

// WriteFile writes the point cloud to the given path, choosing the format from the file extension
// (see ReadFile). PCD files are written with binary data.
func WriteFile(path string, c Cloud) (err error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pcd" && ext != ".xyz" && ext != ".txt" && ext != ".csv" {
		return errors.Errorf("unknown point cloud file format %q for %q: use .pcd or .xyz", ext, path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create point cloud file %q", path)
	}
	defer func() {
		closeErr := f.Close()
		if err == nil && closeErr != nil {
			err = errors.Wrapf(closeErr, "failed to close point cloud file %q", path)
		}
	}()
	if ext == ".pcd" {
		err = WritePCD(f, c, true)
	} else {
		err = WriteXYZ(f, c)
	}
	if err != nil {
		return errors.WithMessagef(err, "writing point cloud to %q", path)
	}
	return nil
}
