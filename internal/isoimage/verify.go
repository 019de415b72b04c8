package isoimage

import (
	"fmt"
	"os"
	"strings"

	"github.com/kdomanski/iso9660"
)

// Verify opens the produced image and checks that the named top-level
// entries are present. It catches truncated or mis-rooted images before
// they reach an operator's USB stick.
func Verify(imagePath string, wantEntries ...string) error {
	f, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("open image %s: %w", imagePath, err)
	}
	defer f.Close()

	image, err := iso9660.OpenImage(f)
	if err != nil {
		return fmt.Errorf("read image %s: %w", imagePath, err)
	}

	root, err := image.RootDir()
	if err != nil {
		return fmt.Errorf("read image root %s: %w", imagePath, err)
	}
	children, err := root.GetChildren()
	if err != nil {
		return fmt.Errorf("list image root %s: %w", imagePath, err)
	}

	present := make(map[string]bool, len(children))
	for _, child := range children {
		present[strings.ToLower(child.Name())] = true
	}

	for _, want := range wantEntries {
		if !present[strings.ToLower(want)] {
			return fmt.Errorf("image %s is missing expected entry %q", imagePath, want)
		}
	}
	return nil
}
