package edgar

import (
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/bighogz/ownership-lens/internal/models"
)

// Select keeps filings whose form type is in formTypes, newest first, at most
// maxCount of them. maxCount <= 0 means no limit. Dates that fail to parse
// sort as the Unix epoch, after every dated filing.
func Select(filings []models.FilingRecord, formTypes []string, maxCount int) []models.FilingRecord {
	wanted := lo.SliceToMap(formTypes, func(f string) (string, struct{}) {
		return strings.TrimSpace(f), struct{}{}
	})
	kept := lo.Filter(filings, func(f models.FilingRecord, _ int) bool {
		_, ok := wanted[strings.TrimSpace(f.FormType)]
		return ok
	})
	sort.SliceStable(kept, func(i, j int) bool {
		return filingTime(kept[i]).After(filingTime(kept[j]))
	})
	if maxCount > 0 && len(kept) > maxCount {
		kept = kept[:maxCount]
	}
	return kept
}

func filingTime(f models.FilingRecord) time.Time {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(f.FilingDate))
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return t
}
