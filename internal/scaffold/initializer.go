package scaffold

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*
var templatesFS embed.FS

// Initialize creates a starter bandscan.yml in the current directory.
// If force is true, an existing bandscan.yml is removed first.
func Initialize(force bool) error {
	if force {
		if _, err := os.Stat("bandscan.yml"); err == nil {
			fmt.Println("⚠️  Removing existing bandscan.yml...")
			if err := os.Remove("bandscan.yml"); err != nil {
				return fmt.Errorf("failed to remove bandscan.yml: %w", err)
			}
		}
	}

	content, err := templatesFS.ReadFile("templates/bandscan.yml.tmpl")
	if err != nil {
		return fmt.Errorf("failed to read bandscan.yml template: %w", err)
	}

	if err := os.WriteFile("bandscan.yml", content, 0644); err != nil {
		return fmt.Errorf("failed to write bandscan.yml: %w", err)
	}

	return validateCreatedFile()
}

// validateCreatedFile checks that the scaffolded file parses as YAML
func validateCreatedFile() error {
	content, err := os.ReadFile("bandscan.yml")
	if err != nil {
		return fmt.Errorf("failed to read created bandscan.yml: %w", err)
	}

	var yamlData interface{}
	if err := yaml.Unmarshal(content, &yamlData); err != nil {
		return fmt.Errorf("created bandscan.yml is not valid YAML: %w", err)
	}

	return nil
}

// PrintSuccess prints the success message with next steps
func PrintSuccess() {
	fmt.Println("\n✅ Successfully initialized bandscan project!")
	fmt.Println("\nCreated:")
	fmt.Println("  ✓ bandscan.yml")
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit bandscan.yml: set your structure, pseudopotentials, and solver image")
	fmt.Println("  2. Run 'bandscan run' to start the crossing search")
	fmt.Println("  3. Run 'bandscan watch' in another terminal to follow iterations")
}
