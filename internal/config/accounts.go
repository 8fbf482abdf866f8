package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/tofagerl/mailmind/pkg/models"
)

// ErrNoAccounts is returned when the accounts file lists no accounts
var ErrNoAccounts = errors.New("no accounts configured")

type accountsFile struct {
	Accounts []accountEntry `mapstructure:"accounts"`
}

type accountEntry struct {
	Name            string          `mapstructure:"name"`
	Email           string          `mapstructure:"email"`
	Password        string          `mapstructure:"password"`
	IMAPServer      string          `mapstructure:"imap_server"`
	IMAPPort        int             `mapstructure:"imap_port"`
	SSL             *bool           `mapstructure:"ssl"`
	Folders         []string        `mapstructure:"folders"`
	DefaultCategory string          `mapstructure:"default_category"`
	Categories      []categoryEntry `mapstructure:"categories"`
}

type categoryEntry struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	Folder      string `mapstructure:"foldername"`
}

// LoadAccounts reads and validates the YAML accounts file
func LoadAccounts(path string) ([]*models.Account, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}

	var file accountsFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("failed to decode accounts file: %w", err)
	}

	if len(file.Accounts) == 0 {
		return nil, ErrNoAccounts
	}

	accounts := make([]*models.Account, 0, len(file.Accounts))
	seen := make(map[string]bool)
	for i, entry := range file.Accounts {
		acc, err := entry.toAccount()
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i+1, err)
		}
		if seen[acc.Name] {
			return nil, fmt.Errorf("account %d: duplicate account name %q", i+1, acc.Name)
		}
		seen[acc.Name] = true
		accounts = append(accounts, acc)
	}

	return accounts, nil
}

func (e accountEntry) toAccount() (*models.Account, error) {
	acc := &models.Account{
		Name:            strings.TrimSpace(e.Name),
		Email:           strings.TrimSpace(e.Email),
		Password:        e.Password,
		IMAPServer:      strings.TrimSpace(e.IMAPServer),
		IMAPPort:        e.IMAPPort,
		TLS:             true,
		Folders:         e.Folders,
		DefaultCategory: strings.ToUpper(strings.TrimSpace(e.DefaultCategory)),
	}
	if e.SSL != nil {
		acc.TLS = *e.SSL
	}
	if acc.IMAPPort == 0 {
		acc.IMAPPort = 993
	}

	for _, c := range e.Categories {
		acc.Categories = append(acc.Categories, models.Category{
			Name:        strings.ToUpper(strings.TrimSpace(c.Name)),
			Description: c.Description,
			Folder:      strings.TrimSpace(c.Folder),
		})
	}
	if len(acc.Categories) == 0 {
		acc.Categories = append(acc.Categories, models.DefaultCategories...)
	}

	if err := ValidateAccount(acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// ValidateAccount checks required fields and category uniqueness
func ValidateAccount(acc *models.Account) error {
	switch {
	case acc.Name == "":
		return errors.New("name is required")
	case acc.Email == "":
		return fmt.Errorf("%s: email is required", acc.Name)
	case acc.Password == "":
		return fmt.Errorf("%s: password is required", acc.Name)
	}

	if len(acc.Categories) == 0 {
		return fmt.Errorf("%s: at least one category is required", acc.Name)
	}

	names := make(map[string]bool, len(acc.Categories))
	for _, c := range acc.Categories {
		key := strings.ToUpper(strings.TrimSpace(c.Name))
		if key == "" {
			return fmt.Errorf("%s: category name cannot be empty", acc.Name)
		}
		if names[key] {
			return fmt.Errorf("%s: duplicate category name %q", acc.Name, c.Name)
		}
		names[key] = true
	}

	if acc.DefaultCategory != "" && !names[strings.ToUpper(acc.DefaultCategory)] {
		return fmt.Errorf("%s: default category %q is not defined", acc.Name, acc.DefaultCategory)
	}

	for _, f := range acc.Folders {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("%s: folder name cannot be empty", acc.Name)
		}
	}

	return nil
}
