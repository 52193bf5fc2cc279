package screening

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MandatoryFields lists the questionnaire fields every submission must carry.
var MandatoryFields = []string{"BMI", "Age", "GenHlth", "PhysActivity"}

// OptionalField is a questionnaire field with its default when absent.
type OptionalField struct {
	Name    string
	Default float64
}

// OptionalFields mirrors the defaults of the ML service's short form.
var OptionalFields = []OptionalField{
	{"HighBP", 0},
	{"HighChol", 0},
	{"CholCheck", 1},
	{"Smoker", 0},
	{"Stroke", 0},
	{"HeartDiseaseorAttack", 0},
	{"Fruits", 0},
	{"Veggies", 0},
	{"HvyAlcoholConsump", 0},
	{"AnyHealthcare", 1},
	{"NoDocbcCost", 0},
	{"MentHlth", 0},
	{"PhysHlth", 0},
	{"DiffWalk", 0},
	{"Sex", 0},
	{"Education", 4},
	{"Income", 5},
}

// Range is the inclusive interval a numeric field must fall in.
type Range struct {
	Min, Max float64
}

func (r Range) contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// FieldRanges are the bounds the ML service enforces on each field.
var FieldRanges = map[string]Range{
	"BMI":                  {10, 80},
	"Age":                  {1, 13},
	"GenHlth":              {1, 5},
	"PhysActivity":         {0, 1},
	"HighBP":               {0, 1},
	"HighChol":             {0, 1},
	"CholCheck":            {0, 1},
	"Smoker":               {0, 1},
	"Stroke":               {0, 1},
	"HeartDiseaseorAttack": {0, 1},
	"Fruits":               {0, 1},
	"Veggies":              {0, 1},
	"HvyAlcoholConsump":    {0, 1},
	"AnyHealthcare":        {0, 1},
	"NoDocbcCost":          {0, 1},
	"MentHlth":             {0, 30},
	"PhysHlth":             {0, 30},
	"DiffWalk":             {0, 1},
	"Sex":                  {0, 1},
	"Education":            {1, 6},
	"Income":               {1, 8},
}

// Modes are the accepted threshold modes.
var Modes = []string{ModeScreening, ModeBalanced}

// ModeField is the name reported when mode is not one of Modes.
const ModeField = "mode"

// Outcome reports which fields failed validation. The zero value is valid.
// OutOfRange also carries ModeField when the mode is unknown.
type Outcome struct {
	Missing    []string
	NotNumeric []string
	OutOfRange []string
}

// Valid reports whether the submission can be forwarded.
func (o Outcome) Valid() bool {
	return len(o.Missing) == 0 && len(o.NotNumeric) == 0 && len(o.OutOfRange) == 0
}

// Invalid lists present fields whose values were rejected, in check order.
func (o Outcome) Invalid() []string {
	if len(o.NotNumeric) == 0 && len(o.OutOfRange) == 0 {
		return nil
	}
	out := make([]string, 0, len(o.NotNumeric)+len(o.OutOfRange))
	out = append(out, o.NotNumeric...)
	return append(out, o.OutOfRange...)
}

// ValidationError carries an invalid Outcome through error returns.
type ValidationError struct {
	Outcome Outcome
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Outcome.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Outcome.Missing, ", "))
	}
	if len(e.Outcome.NotNumeric) > 0 {
		parts = append(parts, "not numeric "+strings.Join(e.Outcome.NotNumeric, ", "))
	}
	if len(e.Outcome.OutOfRange) > 0 {
		parts = append(parts, "out of range "+strings.Join(e.Outcome.OutOfRange, ", "))
	}
	return "invalid screening input: " + strings.Join(parts, "; ")
}

// Validate checks mandatory presence, numeric coercibility, field ranges and
// the mode. Unknown fields are ignored.
func Validate(raw map[string]any) Outcome {
	var out Outcome
	check := func(name string, value any) {
		n, ok := toNumber(value)
		if !ok {
			out.NotNumeric = append(out.NotNumeric, name)
			return
		}
		if r, bounded := FieldRanges[name]; bounded && !r.contains(n) {
			out.OutOfRange = append(out.OutOfRange, name)
		}
	}
	for _, name := range MandatoryFields {
		value, present := raw[name]
		if !present || isBlank(value) {
			out.Missing = append(out.Missing, name)
			continue
		}
		check(name, value)
	}
	for _, field := range OptionalFields {
		value, present := raw[field.Name]
		if !present || isBlank(value) {
			continue
		}
		check(field.Name, value)
	}
	if value, present := raw[ModeField]; present && !isBlank(value) {
		if _, ok := parseMode(value); !ok {
			out.OutOfRange = append(out.OutOfRange, ModeField)
		}
	}
	return out
}

func parseMode(value any) (string, bool) {
	s, ok := value.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	for _, m := range Modes {
		if s == m {
			return s, true
		}
	}
	return "", false
}

// Decode validates raw and builds the typed Input, filling optional defaults.
func Decode(raw map[string]any) (Input, error) {
	outcome := Validate(raw)
	if !outcome.Valid() {
		return Input{}, &ValidationError{Outcome: outcome}
	}

	values := make(map[string]float64, len(MandatoryFields)+len(OptionalFields))
	for _, name := range MandatoryFields {
		values[name], _ = toNumber(raw[name])
	}
	for _, field := range OptionalFields {
		values[field.Name] = field.Default
		if value, present := raw[field.Name]; present && !isBlank(value) {
			values[field.Name], _ = toNumber(value)
		}
	}

	mode := ModeScreening
	if m, ok := parseMode(raw[ModeField]); ok {
		mode = m
	}

	return Input{
		BMI:                  values["BMI"],
		Age:                  int(values["Age"]),
		GenHlth:              int(values["GenHlth"]),
		PhysActivity:         int(values["PhysActivity"]),
		HighBP:               int(values["HighBP"]),
		HighChol:             int(values["HighChol"]),
		CholCheck:            int(values["CholCheck"]),
		Smoker:               int(values["Smoker"]),
		Stroke:               int(values["Stroke"]),
		HeartDiseaseorAttack: int(values["HeartDiseaseorAttack"]),
		Fruits:               int(values["Fruits"]),
		Veggies:              int(values["Veggies"]),
		HvyAlcoholConsump:    int(values["HvyAlcoholConsump"]),
		AnyHealthcare:        int(values["AnyHealthcare"]),
		NoDocbcCost:          int(values["NoDocbcCost"]),
		MentHlth:             int(values["MentHlth"]),
		PhysHlth:             int(values["PhysHlth"]),
		DiffWalk:             int(values["DiffWalk"]),
		Sex:                  int(values["Sex"]),
		Education:            int(values["Education"]),
		Income:               int(values["Income"]),
		Mode:                 mode,
	}, nil
}

func isBlank(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	}
	return false
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil && isFinite(f)
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil && isFinite(f)
	}
	return 0, false
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// String renders the outcome for logs.
func (o Outcome) String() string {
	if o.Valid() {
		return "valid"
	}
	return fmt.Sprintf("missing=%v not_numeric=%v out_of_range=%v", o.Missing, o.NotNumeric, o.OutOfRange)
}
