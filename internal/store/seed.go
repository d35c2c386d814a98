package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/support-widget/internal/model"
)

// SeedFile is the YAML layout of a chatbot seed file.
type SeedFile struct {
	Chatbots []model.Chatbot `yaml:"chatbots"`
}

// LoadSeed reads chatbots from a YAML seed file.
func LoadSeed(path string) ([]model.Chatbot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	for i, bot := range seed.Chatbots {
		if bot.ID <= 0 {
			return nil, fmt.Errorf("seed chatbot %d: id must be positive", i)
		}
		if bot.Name == "" {
			return nil, fmt.Errorf("seed chatbot %d: name is required", bot.ID)
		}
	}
	return seed.Chatbots, nil
}

// Seed writes chatbots to the repository, replacing existing ones with the same ID.
func Seed(ctx context.Context, repo Repository, chatbots []model.Chatbot) error {
	for i := range chatbots {
		if err := repo.PutChatbot(ctx, &chatbots[i]); err != nil {
			return fmt.Errorf("seed chatbot %d: %w", chatbots[i].ID, err)
		}
	}
	return nil
}
