package indexer

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/podledger/internal/domain"
)

const (
	noteStandard   = "arc69"
	noteVersion    = 1
	noteExternal   = "https://edenpods.earth"
	TypeThrow      = "throw"
	TypeHarvest    = "harvest"
	defaultPodIcon = "🌱"
)

type envelope struct {
	Standard    string         `json:"standard"`
	Description string         `json:"description,omitempty"`
	ExternalURL string         `json:"external_url,omitempty"`
	Properties  map[string]any `json:"properties"`
}

// Properties is the decoded properties bag of a recognised note.
type Properties struct {
	Type          string `json:"eden_type"`
	Version       int    `json:"eden_version"`
	PodTypeID     string `json:"podTypeId"`
	PodTypeName   string `json:"podTypeName"`
	PodTypeIcon   string `json:"podTypeIcon"`
	ThrowDate     string `json:"throwDate"`
	LocationLabel string `json:"locationLabel"`
	GrowthModelID string `json:"growthModelId"`
	ThrownBy      string `json:"thrownBy"`

	ThrowAssetID  uint64 `json:"throwAsaId"`
	PlantID       string `json:"plantId"`
	QuantityClass string `json:"quantityClass"`
	HarvestedAt   string `json:"harvestedAt"`
	Notes         string `json:"notes"`
}

// EncodeNote wraps props in an arc69 envelope tagged with noteType.
func EncodeNote(noteType string, props any) ([]byte, error) {
	raw, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to encode note properties: %w", err)
	}
	bag := map[string]any{}
	if err := json.Unmarshal(raw, &bag); err != nil {
		return nil, fmt.Errorf("note properties must be an object: %w", err)
	}
	bag["eden_type"] = noteType
	bag["eden_version"] = noteVersion

	return json.Marshal(envelope{
		Standard:    noteStandard,
		Description: "Eden Pods " + noteType,
		ExternalURL: noteExternal,
		Properties:  bag,
	})
}

type throwNote struct {
	PodTypeID     string `json:"podTypeId"`
	PodTypeName   string `json:"podTypeName"`
	PodTypeIcon   string `json:"podTypeIcon"`
	ThrowDate     string `json:"throwDate"`
	LocationLabel string `json:"locationLabel"`
	GrowthModelID string `json:"growthModelId"`
	ThrownBy      string `json:"thrownBy"`
	Version       int    `json:"version"`
}

func EncodeThrowNote(m domain.ThrowMetadata) ([]byte, error) {
	return EncodeNote(TypeThrow, throwNote{
		PodTypeID:     m.PodTypeID,
		PodTypeName:   m.PodTypeName,
		PodTypeIcon:   m.PodTypeIcon,
		ThrowDate:     m.ThrowDate.UTC().Format(time.RFC3339Nano),
		LocationLabel: m.LocationLabel,
		GrowthModelID: m.GrowthModelID,
		ThrownBy:      m.ThrownBy,
		Version:       m.Version,
	})
}

type harvestNote struct {
	ThrowAssetID  uint64 `json:"throwAsaId"`
	PlantID       string `json:"plantId"`
	QuantityClass string `json:"quantityClass"`
	HarvestedAt   string `json:"harvestedAt"`
	Notes         string `json:"notes"`
}

func EncodeHarvestNote(h domain.Harvest) ([]byte, error) {
	return EncodeNote(TypeHarvest, harvestNote{
		ThrowAssetID:  h.ThrowAssetID,
		PlantID:       h.PlantID,
		QuantityClass: h.QuantityClass.String(),
		HarvestedAt:   h.HarvestedAt.UTC().Format(time.RFC3339Nano),
		Notes:         h.Notes,
	})
}

// DecodeNote parses a base64 note as returned by the indexer. It reports false
// for anything that is not an arc69 envelope with an eden_type.
func DecodeNote(b64 string) (Properties, bool) {
	if strings.TrimSpace(b64) == "" {
		return Properties{}, false
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return Properties{}, false
	}

	var env struct {
		Standard   string          `json:"standard"`
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || env.Standard != noteStandard || len(env.Properties) == 0 {
		return Properties{}, false
	}

	var props Properties
	if err := json.Unmarshal(env.Properties, &props); err != nil || props.Type == "" {
		return Properties{}, false
	}
	return props, true
}

func parseTime(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}
