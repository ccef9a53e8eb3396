package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Stage type codes with a known payload schema.
const (
	StageTypeProcurement  = "procurement"
	StageTypeCutting      = "cutting"
	StageTypeAssembly     = "assembly"
	StageTypeDelivery     = "delivery"
	StageTypeInstallation = "installation"
)

// StagePayload is the type-specific part of a stage, keyed by stage_type_id.
type StagePayload interface {
	StageType() string
	Validate() error
}

type ProcurementPayload struct {
	Supplier         string     `json:"supplier,omitempty"`
	OrderNumber      string     `json:"order_number,omitempty"`
	ExpectedDelivery *time.Time `json:"expected_delivery,omitempty"`
}

func (ProcurementPayload) StageType() string { return StageTypeProcurement }

func (p ProcurementPayload) Validate() error {
	if p.OrderNumber != "" && strings.TrimSpace(p.Supplier) == "" {
		return &ValidationError{Field: "payload.supplier", Message: "required when order_number is set"}
	}
	return nil
}

type CuttingPayload struct {
	Material   string `json:"material,omitempty"`
	SheetCount int    `json:"sheet_count,omitempty"`
}

func (CuttingPayload) StageType() string { return StageTypeCutting }

func (p CuttingPayload) Validate() error {
	if p.SheetCount < 0 {
		return &ValidationError{Field: "payload.sheet_count", Message: "must not be negative"}
	}
	return nil
}

type AssemblyPayload struct {
	Workshop string `json:"workshop,omitempty"`
}

func (AssemblyPayload) StageType() string { return StageTypeAssembly }

func (p AssemblyPayload) Validate() error { return nil }

type DeliveryPayload struct {
	Address string `json:"address,omitempty"`
	Vehicle string `json:"vehicle,omitempty"`
}

func (DeliveryPayload) StageType() string { return StageTypeDelivery }

func (p DeliveryPayload) Validate() error {
	if p.Vehicle != "" && strings.TrimSpace(p.Address) == "" {
		return &ValidationError{Field: "payload.address", Message: "required once a vehicle is assigned"}
	}
	return nil
}

type InstallationPayload struct {
	Address string   `json:"address,omitempty"`
	Crew    []string `json:"crew,omitempty"`
}

func (InstallationPayload) StageType() string { return StageTypeInstallation }

func (p InstallationPayload) Validate() error {
	for _, member := range p.Crew {
		if strings.TrimSpace(member) == "" {
			return &ValidationError{Field: "payload.crew", Message: "crew members must not be blank"}
		}
	}
	return nil
}

// GenericPayload carries the payload of stage types without a schema.
type GenericPayload struct {
	Type   string
	Fields map[string]json.RawMessage
}

func (g GenericPayload) StageType() string { return g.Type }

func (g GenericPayload) Validate() error { return nil }

func (g GenericPayload) MarshalJSON() ([]byte, error) {
	if g.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(g.Fields)
}

// DecodePayload parses raw into the payload type registered for stageType.
// An empty raw value yields the zero payload of that type.
func DecodePayload(stageType string, raw json.RawMessage) (StagePayload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}

	var (
		p   StagePayload
		err error
	)
	switch stageType {
	case StageTypeProcurement:
		var v ProcurementPayload
		err = decodeStrict(raw, &v)
		p = v
	case StageTypeCutting:
		var v CuttingPayload
		err = decodeStrict(raw, &v)
		p = v
	case StageTypeAssembly:
		var v AssemblyPayload
		err = decodeStrict(raw, &v)
		p = v
	case StageTypeDelivery:
		var v DeliveryPayload
		err = decodeStrict(raw, &v)
		p = v
	case StageTypeInstallation:
		var v InstallationPayload
		err = decodeStrict(raw, &v)
		p = v
	default:
		fields := map[string]json.RawMessage{}
		err = json.Unmarshal(raw, &fields)
		p = GenericPayload{Type: stageType, Fields: fields}
	}
	if err != nil {
		return nil, &ValidationError{Field: "payload", Message: "invalid " + stageType + " payload: " + err.Error()}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// NormalizePayload validates raw against stageType and returns its canonical encoding.
func NormalizePayload(stageType string, raw json.RawMessage) (json.RawMessage, error) {
	p, err := DecodePayload(stageType, raw)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(p)
	if err != nil {
		return nil, &ValidationError{Field: "payload", Message: err.Error()}
	}
	return out, nil
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
