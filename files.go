package iabstat

import (
	"fmt"
	"os"
	"path/filepath"
)

// CheckDirectories probes the file system for the existence
// of every directory listed.  Returns a boolean indicating whether all dirs
// are valid, and an aggregated error if any checks failed.
func CheckDirectories(dirs []string) (bool, error) {
	errs := make([]error, 0)
	for _, dir := range dirs {
		if len(dir) == 0 {
			continue
		}
		info, err := os.Stat(dir)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s not reachable", dir))
			continue
		}
		if !info.IsDir() {
			errs = append(errs, fmt.Errorf("%s not a directory", dir))
		}
	}
	err := ReportErrs(errs)
	return err == nil, err
}

// CheckReadableFiles probes the file system to ensure that every
// one of the argument filenames exists and is readable
func CheckReadableFiles(names []string) (bool, error) {
	return CheckFiles(names, true)
}

// CheckOutputFiles probes the file system to ensure that every
// argument filename can be created, i.e. that its directory exists
func CheckOutputFiles(names []string) (bool, error) {
	return CheckFiles(names, false)
}

// CheckFiles probes the file system for the directories of all the
// argument filenames, optionally checking also for the existence
// of those files for the purposes of reading them.  Empty names are skipped.
func CheckFiles(names []string, checkExistence bool) (bool, error) {
	errs := make([]error, 0)
	for _, name := range names {
		if len(name) == 0 {
			continue
		}

		// the directory portion of the path must exist in either case
		directory := filepath.Dir(name)
		if _, err := os.Stat(directory); err != nil {
			errs = append(errs, err)
			continue
		}

		if checkExistence {
			f, err := os.Open(name)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			f.Close()
		}
	}
	err := ReportErrs(errs)
	return err == nil, err
}
