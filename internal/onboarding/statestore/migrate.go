package statestore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"onboarding/internal/onboarding/models"
)

// LegacyVersion is the flat layout written before stage records existed:
// string "state_version", per-stage "<stage>_complete" flags and
// "<stage>_data" maps, with signup data also found under "user_data".
const LegacyVersion = 1

// legacy key names per stage, first match wins
var legacyKeys = map[models.Stage]struct {
	flags []string
	data  []string
}{
	models.StageSignup:  {flags: []string{"signup_complete", "signup_completed"}, data: []string{"signup_data", "user_data"}},
	models.StageCompany: {flags: []string{"company_complete", "business_details_completed"}, data: []string{"company_data", "business_data"}},
	models.StageKYC:     {flags: []string{"kyc_complete", "kyc_completed"}, data: []string{"kyc_data"}},
	models.StageBank:    {flags: []string{"bank_complete", "bank_details_completed"}, data: []string{"bank_data"}},
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
}

// VersionOf reads the layout version of a raw record. Records with a missing
// or unrecognised version are treated as the oldest layout.
func VersionOf(raw map[string]any) int {
	if v, ok := raw["schema_version"]; ok {
		if n, ok := toInt(v); ok && n >= LegacyVersion && n <= models.CurrentSchemaVersion {
			return n
		}
	}
	return LegacyVersion
}

// Migrate upgrades a raw record of the given version to the current layout.
// It never mutates raw, returns current-version records unchanged and is
// idempotent: Migrate(VersionOf(out), out) returns out.
func Migrate(version int, raw map[string]any) map[string]any {
	if version == models.CurrentSchemaVersion {
		return raw
	}
	return migrateV1(raw)
}

func migrateV1(raw map[string]any) map[string]any {
	out := map[string]any{
		"schema_version": models.CurrentSchemaVersion,
		"session_id":     stringValue(raw["session_id"]),
		"status":         legacyStatus(raw),
		"current_step":   legacyStep(raw),
		"task_complete":  boolValue(raw["task_complete"]),
	}
	for _, key := range []string{"entity_id", "onboarding_id"} {
		if v := stringValue(raw[key]); v != "" {
			out[key] = v
		}
	}

	updatedAt := normalizeTime(raw["updated_at"])
	for _, key := range []string{"created_at", "updated_at"} {
		if ts := normalizeTime(raw[key]); ts != "" {
			out[key] = ts
		}
	}

	for stage, keys := range legacyKeys {
		record := map[string]any{"attempts": 0}
		completed := false
		for _, k := range keys.flags {
			if boolValue(raw[k]) {
				completed = true
				break
			}
		}
		record["completed"] = completed
		if completed && updatedAt != "" {
			record["completed_at"] = updatedAt
		}
		for _, k := range keys.data {
			if data, ok := raw[k].(map[string]any); ok && len(data) > 0 {
				record["data"] = copyMap(data)
				break
			}
		}
		out[string(stage)] = record
	}
	return out
}

// decodeState migrates a stored blob and decodes it into a session.
func decodeState(sessionID string, blob []byte) (*models.Session, error) {
	var raw map[string]any
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	migrated := Migrate(VersionOf(raw), raw)
	encoded, err := json.Marshal(migrated)
	if err != nil {
		return nil, fmt.Errorf("encode migrated state: %w", err)
	}
	var s models.Session
	if err := json.Unmarshal(encoded, &s); err != nil {
		return nil, fmt.Errorf("decode migrated state: %w", err)
	}
	if s.ID == "" {
		s.ID = sessionID
	}
	if s.Status == "" {
		s.Status = models.StatusActive
	}
	if s.CurrentStep == "" {
		s.CurrentStep = models.StageSignup
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.UpdatedAt
	}
	for _, stage := range models.DataStages {
		r := s.Record(stage)
		if r.Completed && r.CompletedAt == nil {
			at := s.UpdatedAt
			r.CompletedAt = &at
		}
	}
	s.SchemaVersion = models.CurrentSchemaVersion
	return &s, nil
}

func legacyStatus(raw map[string]any) string {
	switch status := stringValue(raw["status"]); status {
	case string(models.StatusActive), string(models.StatusCompleted), string(models.StatusError):
		return status
	}
	if boolValue(raw["task_complete"]) {
		return string(models.StatusCompleted)
	}
	return string(models.StatusActive)
}

func legacyStep(raw map[string]any) string {
	for _, key := range []string{"current_step", "current_task"} {
		if stage, err := models.ParseStage(stringValue(raw[key])); err == nil {
			return string(stage)
		}
	}
	if boolValue(raw["task_complete"]) {
		return string(models.StageEnd)
	}
	return string(models.StageSignup)
}

func normalizeTime(v any) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return ""
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339Nano)
		}
	}
	return ""
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), n == float64(int(n))
	case int:
		return n, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return int(f), f == float64(int(f))
		}
	}
	return 0, false
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func boolValue(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, _ := strconv.ParseBool(b)
		return parsed
	}
	return false
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
