package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/maruel/natural"
	"github.com/rs/zerolog/log"

	"github.com/fpang/page-restyle/internal/boundary"
	"github.com/fpang/page-restyle/internal/compositor"
	"github.com/fpang/page-restyle/internal/imagestore"
	"github.com/fpang/page-restyle/internal/store"
)

// imageExts are the file extensions read as segment captures.
var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// segmentFiles lists the capture files in dir in natural order, so that
// "section-2.png" sorts before "section-10.png".
func segmentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(natural.StringSlice(names))
	return names, nil
}

// sectionID derives a section id from a capture file name.
func sectionID(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// imageRef probes a capture file and returns the reference a section holds
// for it.
func imageRef(path string, id int64) (*store.ImageRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	img, err := compositor.Probe(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &store.ImageRef{
		ID:       id,
		URL:      imagestore.FileURL(path),
		Width:    img.Width,
		Height:   img.Height,
		MIMEType: img.MIMEType,
	}, nil
}

// loadPage builds a page from a directory of desktop captures and an
// optional directory of mobile captures matched by file name stem.
func loadPage(pageID, ownerID, desktopDir, mobileDir string) (*store.Page, error) {
	names, err := segmentFiles(desktopDir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no images in %s", desktopDir)
	}

	mobile := map[string]string{}
	if mobileDir != "" {
		mobileNames, err := segmentFiles(mobileDir)
		if err != nil {
			return nil, err
		}
		for _, n := range mobileNames {
			mobile[sectionID(n)] = filepath.Join(mobileDir, n)
		}
	}

	page := &store.Page{ID: pageID, OwnerID: ownerID}
	var nextID int64 = 1
	for i, name := range names {
		id := sectionID(name)
		ref, err := imageRef(filepath.Join(desktopDir, name), nextID)
		if err != nil {
			return nil, err
		}
		nextID++
		sec := store.Section{ID: id, PageID: pageID, Order: i, Name: name, Desktop: ref}
		if path, ok := mobile[id]; ok {
			if sec.Mobile, err = imageRef(path, nextID); err != nil {
				return nil, err
			}
			nextID++
		}
		page.Sections = append(page.Sections, sec)
	}
	log.Debug().Int("sections", len(page.Sections)).Int("mobile", len(mobile)).Msg("Loaded page from directory")
	return page, nil
}

// parseOffset parses "id=top:bottom" into a boundary override.
func parseOffset(s string) (boundary.Override, error) {
	id, rest, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(id) == "" {
		return boundary.Override{}, fmt.Errorf("offset %q: want id=top:bottom", s)
	}
	topStr, bottomStr, ok := strings.Cut(rest, ":")
	if !ok {
		return boundary.Override{}, fmt.Errorf("offset %q: want id=top:bottom", s)
	}
	top, err := strconv.Atoi(strings.TrimSpace(topStr))
	if err != nil {
		return boundary.Override{}, fmt.Errorf("offset %q: top: %w", s, err)
	}
	bottom, err := strconv.Atoi(strings.TrimSpace(bottomStr))
	if err != nil {
		return boundary.Override{}, fmt.Errorf("offset %q: bottom: %w", s, err)
	}
	return boundary.Override{SectionID: strings.TrimSpace(id), OffsetTop: top, OffsetBottom: bottom}, nil
}
