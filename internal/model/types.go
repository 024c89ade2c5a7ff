package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Architecture describes how to rebuild an entity from its parameters.
type Architecture struct {
	Kind       string  `json:"kind"`
	Inputs     int     `json:"inputs"`
	Hidden     []int   `json:"hidden,omitempty"`
	Outputs    int     `json:"outputs"`
	Activation string  `json:"activation,omitempty"`
	Dropout    float64 `json:"dropout,omitempty"`
}

// Tensor is a row-major dense matrix payload.
type Tensor struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

type EntityRecord struct {
	VersionedRecord
	ID           string       `json:"id"`
	RunID        string       `json:"run_id,omitempty"`
	Architecture Architecture `json:"architecture"`
	Params       []Tensor     `json:"params"`
	Fitness      float64      `json:"fitness"`
}

type MemberRecord struct {
	EntityID string  `json:"entity_id"`
	Fitness  float64 `json:"fitness"`
}

type PopulationSnapshot struct {
	VersionedRecord
	ID      string         `json:"id"`
	RunID   string         `json:"run_id"`
	Task    string         `json:"task"`
	Epoch   int            `json:"epoch"`
	Members []MemberRecord `json:"members"`
}

// EpochReport is one reporting line of a strategy. Subject names the entity
// the best(...) columns refer to: "best" for populations, "model" or "queen"
// for single-model strategies.
type EpochReport struct {
	Task       string  `json:"task"`
	Subject    string  `json:"subject,omitempty"`
	Epoch      int     `json:"epoch"`
	AvgTrain   float64 `json:"avg_train"`
	BestTrain  float64 `json:"best_train"`
	BestDev    float64 `json:"best_dev"`
	DurationMS int64   `json:"duration_ms"`
}

type RunRecord struct {
	VersionedRecord
	RunID        string   `json:"run_id"`
	CreatedAtUTC string   `json:"created_at_utc"`
	Dataset      string   `json:"dataset,omitempty"`
	Seed         int64    `json:"seed"`
	Tasks        []string `json:"tasks"`
	ResumedFrom  string   `json:"resumed_from,omitempty"`
	BestEntityID string   `json:"best_entity_id,omitempty"`
	FinalDev     float64  `json:"final_dev"`
	FinalTest    float64  `json:"final_test"`
}
