// Package calculator implements math, unit conversion, timezone, and date
// arithmetic tasks.
package calculator

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/opencli/daemon/pkg/domain"
)

// Domain handles calculator_* task types.
type Domain struct{}

// New returns the calculator domain.
func New() *Domain { return &Domain{} }

func (d *Domain) ID() string   { return "calculator" }
func (d *Domain) Name() string { return "Calculator & Conversions" }
func (d *Domain) Description() string {
	return "Math calculations, unit conversions, timezone, and date math"
}

func (d *Domain) TaskTypes() []string {
	return []string{
		"calculator_eval",
		"calculator_convert",
		"calculator_timezone",
		"calculator_date_math",
	}
}

func (d *Domain) DisplayConfigs() map[string]domain.DisplayConfig {
	return map[string]domain.DisplayConfig{
		"calculator_eval": {
			CardType: "calculator", TitleTemplate: "Calculator",
			Icon: "calculate", Color: "#3F51B5",
		},
		"calculator_convert": {
			CardType: "calculator", TitleTemplate: "Conversion",
			Icon: "swap_horiz", Color: "#3F51B5",
		},
		"calculator_timezone": {
			CardType: "calculator", TitleTemplate: "Timezone",
			Icon: "public", Color: "#3F51B5",
		},
		"calculator_date_math": {
			CardType: "calculator", TitleTemplate: "Date Calculation",
			Icon: "date_range", Color: "#3F51B5",
		},
	}
}

func (d *Domain) Execute(_ context.Context, taskType string, data map[string]any) domain.Result {
	switch taskType {
	case "calculator_eval":
		return d.evaluate(data)
	case "calculator_convert":
		return d.convert(data)
	case "calculator_timezone":
		return d.timezone(data)
	case "calculator_date_math":
		return d.dateMath(data)
	}
	return domain.Failf("Unknown calculator task: %s", taskType)
}

var (
	percentPattern = regexp.MustCompile(`^([\d.]+)\s*%\s*(?:of)\s+([\d.]+)`)
	sqrtPattern    = regexp.MustCompile(`^sqrt\s*\(?([\d.]+)\)?`)
	powerPattern   = regexp.MustCompile(`^([\d.]+)\s*\^\s*([\d.]+)`)
)

func (d *Domain) evaluate(data map[string]any) domain.Result {
	expr, _ := data["expression"].(string)

	ok := func(result float64) domain.Result {
		return domain.Ok(map[string]any{
			"expression": expr,
			"result":     formatNumber(result),
			"domain":     "calculator",
			"card_type":  "calculator",
		})
	}

	// Percentage: "15% of 234"
	if m := percentPattern.FindStringSubmatch(expr); m != nil {
		pct, errP := strconv.ParseFloat(m[1], 64)
		val, errV := strconv.ParseFloat(m[2], 64)
		if errP == nil && errV == nil {
			return ok(pct / 100 * val)
		}
	}
	if m := sqrtPattern.FindStringSubmatch(expr); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return ok(math.Sqrt(v))
		}
	}
	// Power: "2^10"
	if m := powerPattern.FindStringSubmatch(expr); m != nil {
		base, errB := strconv.ParseFloat(m[1], 64)
		exp, errE := strconv.ParseFloat(m[2], 64)
		if errB == nil && errE == nil {
			return ok(math.Pow(base, exp))
		}
	}
	if result, err := evalArithmetic(expr); err == nil {
		return ok(result)
	}
	return domain.Result{
		"success":    false,
		"expression": expr,
		"error":      "Could not evaluate expression",
		"domain":     "calculator",
	}
}

var conversions = map[string]map[string]float64{
	"miles":   {"km": 1.60934, "meters": 1609.34, "feet": 5280},
	"km":      {"miles": 0.621371, "meters": 1000, "feet": 3280.84},
	"meters":  {"feet": 3.28084, "miles": 0.000621371, "km": 0.001, "inches": 39.3701},
	"feet":    {"meters": 0.3048, "miles": 0.000189394, "km": 0.0003048, "inches": 12},
	"inches":  {"cm": 2.54, "meters": 0.0254, "feet": 0.0833333},
	"cm":      {"inches": 0.393701, "meters": 0.01, "feet": 0.0328084},
	"kg":      {"lbs": 2.20462, "pounds": 2.20462, "oz": 35.274, "grams": 1000},
	"lbs":     {"kg": 0.453592, "oz": 16, "grams": 453.592},
	"pounds":  {"kg": 0.453592, "oz": 16, "grams": 453.592},
	"oz":      {"grams": 28.3495, "kg": 0.0283495, "lbs": 0.0625},
	"grams":   {"oz": 0.035274, "kg": 0.001, "lbs": 0.00220462},
	"liters":  {"gallons": 0.264172, "cups": 4.22675, "ml": 1000},
	"gallons": {"liters": 3.78541, "cups": 16, "ml": 3785.41},
	"cups":    {"ml": 236.588, "liters": 0.236588, "gallons": 0.0625},
}

var tempUnits = map[string]bool{
	"fahrenheit": true, "celsius": true, "kelvin": true,
	"f": true, "c": true, "k": true,
}

func (d *Domain) convert(data map[string]any) domain.Result {
	value := floatField(data, "value")
	fromUnit := strings.ToLower(stringField(data, "from"))
	toUnit := strings.ToLower(stringField(data, "to"))

	ok := func(result float64) domain.Result {
		return domain.Ok(map[string]any{
			"value": value, "from": fromUnit, "to": toUnit,
			"result":    formatNumber(result),
			"display":   fmt.Sprintf("%s %s = %s %s", formatNumber(value), fromUnit, formatNumber(result), toUnit),
			"domain":    "calculator",
			"card_type": "calculator",
		})
	}

	if tempUnits[fromUnit] && tempUnits[toUnit] {
		if result, converted := convertTemperature(value, fromUnit, toUnit); converted {
			return ok(result)
		}
	}
	if toMap, found := conversions[fromUnit]; found {
		if factor, found := toMap[toUnit]; found {
			return ok(value * factor)
		}
	}
	return domain.Result{
		"success": false,
		"error":   fmt.Sprintf("Unknown conversion: %s to %s", fromUnit, toUnit),
		"domain":  "calculator",
	}
}

func convertTemperature(value float64, fromUnit, toUnit string) (float64, bool) {
	from := fromUnit[:1]
	to := toUnit[:1]
	if from == to {
		return value, true
	}
	switch from + to {
	case "fc":
		return (value - 32) * 5 / 9, true
	case "cf":
		return value*9/5 + 32, true
	case "ck":
		return value + 273.15, true
	case "kc":
		return value - 273.15, true
	case "fk":
		return (value-32)*5/9 + 273.15, true
	case "kf":
		return (value-273.15)*9/5 + 32, true
	}
	return 0, false
}

var timezoneOffsets = map[string]int{
	"tokyo": 9, "japan": 9, "jst": 9,
	"london": 0, "uk": 0, "gmt": 0, "utc": 0,
	"new york": -5, "nyc": -5, "est": -5, "eastern": -5,
	"los angeles": -8, "la": -8, "pst": -8, "pacific": -8,
	"chicago": -6, "cst": -6, "central": -6,
	"denver": -7, "mst": -7, "mountain": -7,
	"paris": 1, "france": 1, "cet": 1,
	"berlin": 1, "germany": 1,
	"sydney": 11, "australia": 11, "aest": 11,
	"beijing": 8, "china": 8, "shanghai": 8,
	"mumbai": 5, "india": 5, "ist": 5, "delhi": 5,
	"dubai": 4, "uae": 4,
	"singapore": 8, "hong kong": 8,
	"seoul": 9, "korea": 9,
	"bangkok": 7, "thailand": 7,
	"moscow": 3, "russia": 3,
	"sao paulo": -3, "brazil": -3,
	"hawaii": -10, "hst": -10,
}

func (d *Domain) timezone(data map[string]any) domain.Result {
	location := strings.TrimSpace(strings.ToLower(stringField(data, "location")))
	offset, found := timezoneOffsets[location]
	if !found {
		return domain.Result{
			"success": false,
			"error":   "Unknown timezone/city: " + location,
			"domain":  "calculator",
		}
	}
	local := time.Now().UTC().Add(time.Duration(offset) * time.Hour)
	clock := local.Format("15:04")
	date := local.Format("2006-01-02")
	sign := ""
	if offset >= 0 {
		sign = "+"
	}
	return domain.Ok(map[string]any{
		"location": location,
		"time":     clock,
		"date":     date,
		"offset":   fmt.Sprintf("UTC%s%d", sign, offset),
		"display": fmt.Sprintf("It's %s in %s (%s, UTC%s%d)",
			clock, titleCase(location), date, sign, offset),
		"domain":    "calculator",
		"card_type": "calculator",
	})
}

func (d *Domain) dateMath(data map[string]any) domain.Result {
	now := time.Now()
	switch stringField(data, "operation") {
	case "days_from_now":
		days := int(floatField(data, "days"))
		target := now.AddDate(0, 0, days).Format("2006-01-02")
		return domain.Ok(map[string]any{
			"days":      days,
			"date":      target,
			"display":   fmt.Sprintf("%d days from now is %s", days, target),
			"domain":    "calculator",
			"card_type": "calculator",
		})
	case "days_until":
		targetStr := stringField(data, "target")
		target, found := parseTargetDate(targetStr, now)
		if !found {
			return domain.Result{
				"success": false,
				"error":   "Could not parse date: " + targetStr,
				"domain":  "calculator",
			}
		}
		days := int(target.Sub(now).Hours() / 24)
		return domain.Ok(map[string]any{
			"target":    targetStr,
			"days":      days,
			"display":   fmt.Sprintf("%d days until %s", days, targetStr),
			"domain":    "calculator",
			"card_type": "calculator",
		})
	}
	return domain.Result{"success": false, "error": "Unknown date operation", "domain": "calculator"}
}

var holidays = map[string]struct{ month, day int }{
	"christmas": {12, 25}, "new year": {1, 1}, "new years": {1, 1},
	"valentines": {2, 14}, "valentine": {2, 14},
	"halloween": {10, 31}, "thanksgiving": {11, 28},
}

var monthNumbers = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

// parseTargetDate resolves holiday names and "month day" phrases to the next
// future occurrence.
func parseTargetDate(text string, now time.Time) (time.Time, bool) {
	lower := strings.TrimSpace(strings.ToLower(text))
	year := now.Year()

	if h, found := holidays[lower]; found {
		y := year
		if lower == "new year" || lower == "new years" {
			y = year + 1
		}
		target := time.Date(y, time.Month(h.month), h.day, 0, 0, 0, 0, now.Location())
		if target.Before(now) {
			target = time.Date(y+1, time.Month(h.month), h.day, 0, 0, 0, 0, now.Location())
		}
		return target, true
	}

	for name, month := range monthNumbers {
		pat := regexp.MustCompile(name + `\s+(\d+)`)
		if m := pat.FindStringSubmatch(lower); m != nil {
			day, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			target := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
			if target.Before(now) {
				target = time.Date(year+1, month, day, 0, 0, 0, 0, now.Location())
			}
			return target, true
		}
	}
	return time.Time{}, false
}

// formatNumber drops the decimal part for whole values and keeps two places
// otherwise, matching what clients render on calculator cards.
func formatNumber(n float64) string {
	if n == math.Trunc(n) && !math.IsInf(n, 0) {
		return strconv.FormatFloat(n, 'f', 0, 64)
	}
	return strconv.FormatFloat(n, 'f', 2, 64)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func floatField(data map[string]any, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}
