package types

// Stage names the pipeline step an invocation was rejected at.
type Stage string

const (
	StageSchema  Stage = "schema"
	StageSanity  Stage = "sanity"
	StageVersion Stage = "version"
	StageStorage Stage = "storage"
)

const (
	ExitUploaded         = 0
	ExitUnknownRejection = 1
	ExitSchemaRejected   = 10
	ExitSanityRejected   = 11
	ExitVersionRejected  = 12
	ExitStoragePermanent = 13
	ExitStorageExhausted = 14
)

// UploadResult is the outcome of one deploy invocation.
type UploadResult struct {
	InvocationID string      `json:"invocation_id"`
	Success      bool        `json:"success"`
	Version      *VersionTag `json:"version,omitempty"`
	Simulated    bool        `json:"simulated"`
	Stage        Stage       `json:"stage,omitempty"`
	Detail       string      `json:"detail,omitempty"`
	Violations   []string    `json:"violations,omitempty"`
	Attempts     int         `json:"attempts,omitempty"`
	Transient    bool        `json:"transient,omitempty"`
	Name         string      `json:"name,omitempty"`
	Bucket       string      `json:"bucket"`
	ObjectKey    string      `json:"object_key,omitempty"`
	Digest       string      `json:"digest,omitempty"`
}

func (r UploadResult) ExitCode() int {
	if r.Success {
		return ExitUploaded
	}
	switch r.Stage {
	case StageSchema:
		return ExitSchemaRejected
	case StageSanity:
		return ExitSanityRejected
	case StageVersion:
		return ExitVersionRejected
	case StageStorage:
		if r.Transient {
			return ExitStorageExhausted
		}
		return ExitStoragePermanent
	default:
		return ExitUnknownRejection
	}
}
