package config

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/wharfd/wharf/pkg/types"
)

// Fingerprint computes the content identity of a service spec: a stable
// hash over the fields that affect the built image and the full contents of
// the build context directory. Two specs with equal fingerprints produce
// identical instances, so a matching fingerprint on a healthy running
// instance makes a rebuild unnecessary.
func Fingerprint(spec *types.ServiceSpec) (string, error) {
	hasher := blake3.New()

	// Spec fields that change the image or how it runs. Ports, volumes and
	// env are included because the running instance must be replaced when
	// they change even if the image itself did not.
	writeField(hasher, "name", spec.Name)
	for _, dep := range spec.DependsOn {
		writeField(hasher, "dep", dep)
	}
	for _, p := range spec.Ports {
		writeField(hasher, "port", fmt.Sprintf("%s:%d:%d/%s", p.HostAddr, p.HostPort, p.ContainerPort, p.Protocol))
	}
	for _, v := range spec.Volumes {
		writeField(hasher, "volume", fmt.Sprintf("%s:%s:%t", v.HostPath, v.ContainerPath, v.ReadOnly))
	}
	for _, env := range spec.Env {
		writeField(hasher, "env", env)
	}

	// Build context: WalkDir visits entries in lexical order, so the hash
	// is stable across runs.
	err := filepath.WalkDir(spec.BuildContext, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(spec.BuildContext, path)
		if err != nil {
			return err
		}
		if entry.IsDir() {
			writeField(hasher, "dir", rel)
			return nil
		}
		if !entry.Type().IsRegular() {
			// Symlinks hash by target, everything else by presence only.
			if entry.Type()&fs.ModeSymlink != 0 {
				target, err := os.Readlink(path)
				if err != nil {
					return err
				}
				writeField(hasher, "link", rel+" -> "+target)
			} else {
				writeField(hasher, "special", rel)
			}
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		writeField(hasher, "file", fmt.Sprintf("%s %o", rel, info.Mode().Perm()))
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(hasher, f)
		f.Close()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("hashing build context %s: %w", spec.BuildContext, err)
	}

	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:16]), nil
}

func writeField(w io.Writer, kind, value string) {
	// A field separator that cannot occur in the values keeps the hash
	// unambiguous under concatenation.
	io.WriteString(w, kind)
	io.WriteString(w, "\x00")
	io.WriteString(w, strings.TrimSpace(value))
	io.WriteString(w, "\x00")
}
