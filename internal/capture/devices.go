package capture

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// CameraInfo describes a V4L2 capture node.
type CameraInfo struct {
	Index      int    `json:"index"`
	DevicePath string `json:"device_path"`
	DeviceName string `json:"device_name"`
}

// sysfsRoot is where video4linux class devices are listed.
var sysfsRoot = "/sys/class/video4linux"

// ListCameras returns the video4linux nodes known to the kernel, sorted by index.
// An empty list (not an error) is returned on systems without video4linux.
func ListCameras() ([]CameraInfo, error) {
	entries, err := os.ReadDir(sysfsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var cameras []CameraInfo
	for _, e := range entries {
		idx, ok := strings.CutPrefix(e.Name(), "video")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(idx)
		if err != nil {
			continue
		}

		name := e.Name()
		if raw, err := os.ReadFile(filepath.Join(sysfsRoot, e.Name(), "name")); err == nil {
			name = strings.TrimSpace(string(raw))
		}

		cameras = append(cameras, CameraInfo{
			Index:      n,
			DevicePath: Camera(n).Path(),
			DeviceName: name,
		})
	}

	sort.Slice(cameras, func(i, j int) bool { return cameras[i].Index < cameras[j].Index })
	return cameras, nil
}
