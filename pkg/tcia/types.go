package tcia

// Collection is one named partition of the remote catalog.
type Collection struct {
	Name string `json:"Collection"`
}

// Study is one clinical imaging encounter record. StudyInstanceUID is
// unique within a collection and is the cache dedup key.
type Study struct {
	Collection       string `json:"Collection"`
	PatientID        string `json:"PatientID"`
	StudyInstanceUID string `json:"StudyInstanceUID"`
	StudyDate        string `json:"StudyDate"`
	StudyDescription string `json:"StudyDescription"`
}

// Usable reports whether the record carries the identifiers the pipeline
// needs. Records without a PatientID or StudyInstanceUID are discarded
// and never cached.
func (s Study) Usable() bool {
	return s.PatientID != "" && s.StudyInstanceUID != ""
}

// Series is a sub-record of a Study describing one acquired image or
// report set. Series are fetched on demand and never cached.
type Series struct {
	SeriesInstanceUID string `json:"SeriesInstanceUID"`
	Modality          string `json:"Modality"`
	SeriesDescription string `json:"SeriesDescription"`
	SeriesNumber      string `json:"SeriesNumber"`
}
