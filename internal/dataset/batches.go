package dataset

import (
	"os"
	"regexp"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
)

var batchPattern = regexp.MustCompile(`^(\d{4})_Q([1-4])(_.*)?$`)

// Batch is one quarterly data release directory such as 2023_Q2_complete
type Batch struct {
	Name    string
	Year    int
	Quarter int
}

// ListBatches returns the release directories under root, oldest first
func ListBatches(root string) ([]Batch, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: list batches in %s", root)
	}

	var batches []Batch
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m := batchPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		year, _ := strconv.Atoi(m[1])
		quarter, _ := strconv.Atoi(m[2])
		batches = append(batches, Batch{Name: entry.Name(), Year: year, Quarter: quarter})
	}

	sort.Slice(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Quarter != b.Quarter {
			return a.Quarter < b.Quarter
		}
		return a.Name < b.Name
	})
	return batches, nil
}

// LatestBatch returns the newest release directory name under root
func LatestBatch(root string) (string, error) {
	batches, err := ListBatches(root)
	if err != nil {
		return "", err
	}
	if len(batches) == 0 {
		return "", eris.Errorf("dataset: no YYYY_Qn batches in %s", root)
	}
	return batches[len(batches)-1].Name, nil
}
