package runtime

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/docker/docker/api/types/filters"
	"github.com/google/uuid"
)

// SyntheticImageTag derives a deterministic, UUID-based image tag per
// (project, container) so repeated runs of the same project can reuse the
// Docker build cache (spec_full §10).
func SyntheticImageTag(projectName, containerName string) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(projectName+"/"+containerName))
	return fmt.Sprintf("taskrunner-%s:latest", id.String())
}

// SyntheticNetworkName derives a unique name for the per-run bridge
// network.
func SyntheticNetworkName() string {
	return "taskrunner-" + uuid.NewString()
}

// eventFilters builds the die/health_status container-event filter spec §6
// describes.
func eventFilters(containerID string) filters.Args {
	f := filters.NewArgs()
	f.Add("container", containerID)
	f.Add("event", "die")
	f.Add("event", "health_status")
	return f
}

// buildContextTar tars up dir for submission as a Docker build context.
func buildContextTar(dir string) (io.ReadCloser, error) {
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return io.NopCloser(buf), nil
}

// writeCurrentUserFiles generates a minimal passwd/group pair mapping the
// invoking host user into the container, for RunAsCurrentUser (spec §3's
// "temporary files ... owned by the container that triggered them").
func writeCurrentUserFiles(containerName string) (passwdPath, groupPath string, uid, gid int, err error) {
	uid = os.Getuid()
	gid = os.Getgid()

	dir, err := os.MkdirTemp("", "taskrunner-"+containerName+"-")
	if err != nil {
		return "", "", 0, 0, err
	}

	user := os.Getenv("USER")
	if user == "" {
		user = "container-user"
	}

	passwdPath = filepath.Join(dir, "passwd")
	passwdContents := user + ":x:" + strconv.Itoa(uid) + ":" + strconv.Itoa(gid) + "::/home/" + user + ":/bin/sh\n"
	if err := os.WriteFile(passwdPath, []byte(passwdContents), 0o644); err != nil {
		return "", "", 0, 0, err
	}

	groupPath = filepath.Join(dir, "group")
	groupContents := user + ":x:" + strconv.Itoa(gid) + ":\n"
	if err := os.WriteFile(groupPath, []byte(groupContents), 0o644); err != nil {
		return "", "", 0, 0, err
	}

	return passwdPath, groupPath, uid, gid, nil
}
