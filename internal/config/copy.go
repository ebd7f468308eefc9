package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WidgetCopy is the user-visible text of the widget.
type WidgetCopy struct {
	Title        string `yaml:"title" json:"title"`
	WelcomeTitle string `yaml:"welcomeTitle" json:"welcomeTitle"`
	WelcomeText  string `yaml:"welcomeText" json:"welcomeText"`
	StartLabel   string `yaml:"startLabel" json:"startLabel"`
	Placeholder  string `yaml:"placeholder" json:"placeholder"`
	Greeting     string `yaml:"greeting" json:"greeting"`
	NoAnswer     string `yaml:"noAnswer" json:"noAnswer"`
	Failure      string `yaml:"failure" json:"failure"`
	Unidentified string `yaml:"unidentified" json:"unidentified"`
	Busy         string `yaml:"busy" json:"busy"`
}

// DefaultCopy returns the built-in HR assistant copy.
func DefaultCopy() WidgetCopy {
	return WidgetCopy{
		Title:        "Company Assistant",
		WelcomeTitle: "Hello! I'm your HR Assistant",
		WelcomeText:  "I'm here to help with questions about HR policies, benefits, recruitment, onboarding, or any employee-related information.",
		StartLabel:   "Get Started",
		Placeholder:  "Ask something about our company...",
		Greeting:     "Hello! I'm your HR assistant. You can ask me anything related to company policies, benefits, recruitment, onboarding, employee support, or general HR information. How can I assist you today?",
		NoAnswer:     "Sorry, I couldn't find an answer.",
		Failure:      "Oops! Something went wrong. Please try again later.",
		Unidentified: "Client or Company not identified. Please contact support.",
		Busy:         "Please wait for the current answer before asking again.",
	}
}

// LoadCopy reads a YAML copy file on top of DefaultCopy. Keys missing from the
// file keep their default text. An empty path returns the defaults.
func LoadCopy(path string) (WidgetCopy, error) {
	c := DefaultCopy()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return c, fmt.Errorf("read widget copy %s: %w", path, err)
	}
	var override WidgetCopy
	if err := yaml.Unmarshal(data, &override); err != nil {
		return c, fmt.Errorf("parse widget copy %s: %w", path, err)
	}
	c.merge(override)
	return c, nil
}

func (c *WidgetCopy) merge(o WidgetCopy) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Title, o.Title)
	set(&c.WelcomeTitle, o.WelcomeTitle)
	set(&c.WelcomeText, o.WelcomeText)
	set(&c.StartLabel, o.StartLabel)
	set(&c.Placeholder, o.Placeholder)
	set(&c.Greeting, o.Greeting)
	set(&c.NoAnswer, o.NoAnswer)
	set(&c.Failure, o.Failure)
	set(&c.Unidentified, o.Unidentified)
	set(&c.Busy, o.Busy)
}
