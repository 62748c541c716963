package services

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"property-sync/models"
	"property-sync/utils"
)

const (
	largestCount   = 5
	geohashCellLen = 5
)

type InsightService struct {
	logger *utils.Logger
	out    io.Writer
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger, out: os.Stdout}
}

// WithOutput redirects Print.
func (s *InsightService) WithOutput(w io.Writer) *InsightService {
	s.out = w
	return s
}

func (s *InsightService) Generate(props []models.Property) *models.InsightReport {
	report := &models.InsightReport{
		ByLocation:    make(map[string]int),
		ByComplex:     make(map[string]int),
		ByGeohashCell: make(map[string]int),
	}

	if len(props) == 0 {
		return report
	}

	report.TotalListings = len(props)

	var priced []*models.Property
	var sized []*models.Property
	var sqmTotal float64
	var sqmCount int

	for i := range props {
		p := &props[i]
		switch fold(p.Status) {
		case StatusAvailable:
			report.Available++
		case StatusReserved:
			report.Reserved++
		case StatusSold:
			report.Sold++
		}
		if p.CleanPrice > 0 {
			priced = append(priced, p)
		}
		if p.Area > 0 {
			sized = append(sized, p)
		}
		if p.PriceSqm > 0 {
			sqmTotal += p.PriceSqm
			sqmCount++
		}
		if p.Location != "" {
			report.ByLocation[p.Location]++
		}
		if code := ComplexCode(p.Title); code != "" {
			report.ByComplex[code]++
		}
		if len(p.Geohash) >= geohashCellLen {
			report.ByGeohashCell[p.Geohash[:geohashCellLen]]++
		}
	}

	// Price stats (only properties with a price)
	if len(priced) > 0 {
		report.MinPrice = priced[0].CleanPrice
		report.MaxPrice = priced[0].CleanPrice
		report.MostExpensive = priced[0]
		for _, p := range priced {
			report.TotalValue += p.CleanPrice
			if p.CleanPrice < report.MinPrice {
				report.MinPrice = p.CleanPrice
			}
			if p.CleanPrice > report.MaxPrice {
				report.MaxPrice = p.CleanPrice
				report.MostExpensive = p
			}
		}
		report.AveragePrice = round2(report.TotalValue / float64(len(priced)))
		report.TotalValue = round2(report.TotalValue)
		report.MinPrice = round2(report.MinPrice)
		report.MaxPrice = round2(report.MaxPrice)
	}
	if sqmCount > 0 {
		report.AveragePerSqm = round2(sqmTotal / float64(sqmCount))
	}

	sort.SliceStable(sized, func(i, j int) bool {
		return sized[i].Area > sized[j].Area
	})
	if len(sized) > largestCount {
		sized = sized[:largestCount]
	}
	report.Largest = sized

	s.logger.Debug("[insights] %d properties, %d priced, %d complexes",
		report.TotalListings, len(priced), len(report.ByComplex))
	return report
}

func (s *InsightService) Print(r *models.InsightReport) {
	w := s.out
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  📊 PROPERTY DATASET INSIGHTS\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Total properties : \033[1m%d\033[0m\n", r.TotalListings)
	fmt.Fprintf(w, "  Available        : \033[1m%d\033[0m\n", r.Available)
	fmt.Fprintf(w, "  Reserved         : \033[1m%d\033[0m\n", r.Reserved)
	fmt.Fprintf(w, "  Sold             : \033[1m%d\033[0m\n", r.Sold)
	fmt.Fprintln(w)

	// Price Stats
	fmt.Fprintf(w, "\033[1;33m  Price Statistics\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.AveragePrice > 0 {
		fmt.Fprintf(w, "  Total value    : \033[1;32m%s\033[0m\n", FormatPrice(r.TotalValue, DefaultCurrency))
		fmt.Fprintf(w, "  Average price  : \033[1;32m%s\033[0m\n", FormatPrice(r.AveragePrice, DefaultCurrency))
		fmt.Fprintf(w, "  Minimum price  : \033[1;32m%s\033[0m\n", FormatPrice(r.MinPrice, DefaultCurrency))
		fmt.Fprintf(w, "  Maximum price  : \033[1;32m%s\033[0m\n", FormatPrice(r.MaxPrice, DefaultCurrency))
		if r.AveragePerSqm > 0 {
			fmt.Fprintf(w, "  Average per m² : \033[1;32m%s\033[0m\n", FormatPrice(r.AveragePerSqm, DefaultCurrency))
		}
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	// Most Expensive
	if r.MostExpensive != nil {
		fmt.Fprintf(w, "\033[1;33m  Most Expensive Property\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  %s\n", truncate(r.MostExpensive.Title, 50))
		fmt.Fprintf(w, "  Id       : %s\n", r.MostExpensive.ID)
		fmt.Fprintf(w, "  Location : %s\n", r.MostExpensive.Location)
		fmt.Fprintf(w, "  Price    : \033[1;31m%s\033[0m\n", FormatPrice(r.MostExpensive.CleanPrice, r.MostExpensive.Currency))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "\033[1;33m  Top %d Largest Properties\033[0m\n", largestCount)
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.Largest) == 0 {
		fmt.Fprintf(w, "  No area data found\n")
	} else {
		for i, p := range r.Largest {
			fmt.Fprintf(w, "  \033[1m%d.\033[0m %-40s \033[1;32m%.0f m²\033[0m\n",
				i+1, truncate(p.Title, 38), p.Area)
		}
	}
	fmt.Fprintln(w)

	printCounts(w, "Properties by Location", r.ByLocation, thin)
	printCounts(w, "Properties by Complex", r.ByComplex, thin)
	printCounts(w, "Properties by Area Cell", r.ByGeohashCell, thin)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func printCounts(w io.Writer, title string, counts map[string]int, thin string) {
	fmt.Fprintf(w, "\033[1;33m  %s\033[0m\n", title)
	fmt.Fprintf(w, "  %s\n", thin)
	if len(counts) == 0 {
		fmt.Fprintf(w, "  No data\n\n")
		return
	}

	type keyCount struct {
		key   string
		count int
	}
	var rows []keyCount
	for k, c := range counts {
		rows = append(rows, keyCount{k, c})
	}
	// Sort by count descending, then key for stable output
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].key < rows[j].key
	})
	for _, kc := range rows {
		bar := strings.Repeat("█", min(kc.count, 40))
		fmt.Fprintf(w, "  %-30s %s (%d)\n", truncate(kc.key, 28), bar, kc.count)
	}
	fmt.Fprintln(w)
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
