package domain

// Artifact references the generated 3D asset of a completed dream.
type Artifact struct {
	SourceURL string `json:"sourceUrl"`
	LocalPath string `json:"localPath"`
	Format    string `json:"format"`
}
