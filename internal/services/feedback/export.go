package feedback

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/pkg/errors"
)

var csvHeader = []string{
	"ID",
	"Order ID",
	"Courier Name",
	"Rating",
	"Comment",
	"Reasons",
	"Consent",
	"Needs Follow-up",
	"Date",
}

const exportPageSize = 500

// ExportCSV пишет все записи под фильтром, постранично. Limit/Offset фильтра игнорируются.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, filter models.FeedbackFilter) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, errors.Wrap(err, "write csv header")
	}

	n := 0
	filter.Limit = exportPageSize
	filter.Offset = 0
	for {
		page, err := s.ListFeedback(ctx, filter)
		if err != nil {
			return n, err
		}
		for _, f := range page {
			if err := cw.Write(csvRow(f)); err != nil {
				return n, errors.Wrap(err, "write csv row")
			}
			n++
		}
		if len(page) < exportPageSize {
			break
		}
		filter.Offset += len(page)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, errors.Wrap(err, "flush csv")
	}
	return n, nil
}

func csvRow(f *models.Feedback) []string {
	reasons := f.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	rawReasons, _ := json.Marshal(reasons)

	return []string{
		strconv.FormatUint(f.ID, 10),
		f.OrderID,
		f.CourierName,
		strconv.Itoa(f.Rating),
		f.Comment,
		string(rawReasons),
		strconv.FormatBool(f.PublishConsent),
		strconv.FormatBool(f.NeedsFollowUp),
		f.CreatedAt.UTC().Format(time.RFC3339),
	}
}
