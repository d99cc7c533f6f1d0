package config

// ModelsConfig is the public model catalog served on /models.
type ModelsConfig struct {
	Models []ModelEntry `yaml:"models"`
}

type ModelEntry struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Provider    string `yaml:"provider" json:"provider"`
	Category    string `yaml:"category" json:"category"`
}
