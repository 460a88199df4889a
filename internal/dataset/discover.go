package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInsufficientTrainingData means fewer than two classes have images.
var ErrInsufficientTrainingData = errors.New("insufficient training data")

// TrainSubdir holds one subdirectory per class.
const TrainSubdir = "train"

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true,
	".gif": true, ".tif": true, ".tiff": true, ".webp": true,
}

// Class is one label directory and the images found beneath it.
type Class struct {
	Name  string
	Files []string
}

// EnsureLayout creates root/train/<class> for every name so an empty
// dataset tree is ready to be filled.
func EnsureLayout(root string, classes []string) error {
	for _, name := range classes {
		dir := filepath.Join(root, TrainSubdir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create class dir %s failed: %w", dir, err)
		}
	}
	return nil
}

// DiscoverClasses lists the class directories of trainDir in lexical order.
// That order is the label index order of the trained model.
func DiscoverClasses(trainDir string) ([]Class, error) {
	entries, err := os.ReadDir(trainDir)
	if err != nil {
		return nil, fmt.Errorf("read train dir %s failed: %w", trainDir, err)
	}
	classes := make([]Class, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files, err := discoverImages(filepath.Join(trainDir, e.Name()))
		if err != nil {
			return nil, err
		}
		classes = append(classes, Class{Name: e.Name(), Files: files})
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].Name < classes[j].Name })
	return classes, nil
}

func discoverImages(dir string) ([]string, error) {
	files := make([]string, 0)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if imageExts[strings.ToLower(filepath.Ext(d.Name()))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover images: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// CheckClasses fails with ErrInsufficientTrainingData unless at least two
// classes contain images.
func CheckClasses(classes []Class) error {
	nonEmpty := 0
	for _, c := range classes {
		if len(c.Files) > 0 {
			nonEmpty++
		}
	}
	if nonEmpty < 2 {
		return fmt.Errorf("%w: %d non-empty class directories, need at least 2", ErrInsufficientTrainingData, nonEmpty)
	}
	return nil
}

// Names returns the class names in label order.
func Names(classes []Class) []string {
	names := make([]string, len(classes))
	for i, c := range classes {
		names[i] = c.Name
	}
	return names
}
