package models

import "strings"

// Category is an account-scoped bucket mapped to a destination folder
type Category struct {
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
	Folder      string `json:"foldername" db:"folder"`
}

// TargetFolder returns the folder messages of this category are moved to
func (c Category) TargetFolder() string {
	if c.Folder != "" {
		return c.Folder
	}
	return c.Name
}

// DefaultCategories are used when an account configures none
var DefaultCategories = []Category{
	{Name: "SPAM", Description: "Unsolicited bulk mail, phishing and scams", Folder: "[Spam]"},
	{Name: "RECEIPTS", Description: "Order confirmations, invoices and payment receipts", Folder: "[Receipts]"},
	{Name: "PROMOTIONS", Description: "Marketing, newsletters and special offers", Folder: "[Promotions]"},
	{Name: "UPDATES", Description: "Notifications from services, accounts and subscriptions", Folder: "[Updates]"},
	{Name: "INBOX", Description: "Personal and important mail that needs attention", Folder: "INBOX"},
}

// CategorySet is the validated category list of one account plus its default
type CategorySet struct {
	categories []Category
	byName     map[string]int
	def        int
}

// NewCategorySet indexes categories by upper-cased name.
// The default is defaultName if present, then INBOX, then the first category.
func NewCategorySet(categories []Category, defaultName string) *CategorySet {
	s := &CategorySet{
		categories: make([]Category, 0, len(categories)),
		byName:     make(map[string]int, len(categories)),
	}
	for _, c := range categories {
		key := strings.ToUpper(strings.TrimSpace(c.Name))
		if _, dup := s.byName[key]; dup || key == "" {
			continue
		}
		c.Name = key
		s.byName[key] = len(s.categories)
		s.categories = append(s.categories, c)
	}

	s.def = -1
	for _, name := range []string{defaultName, "INBOX"} {
		if i, ok := s.byName[strings.ToUpper(strings.TrimSpace(name))]; ok && name != "" {
			s.def = i
			break
		}
	}
	if s.def < 0 && len(s.categories) > 0 {
		s.def = 0
	}
	return s
}

// Lookup finds a category case-insensitively
func (s *CategorySet) Lookup(name string) (Category, bool) {
	i, ok := s.byName[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return Category{}, false
	}
	return s.categories[i], true
}

// Default returns the fallback category
func (s *CategorySet) Default() Category {
	if s.def < 0 {
		return Category{Name: "INBOX", Folder: DefaultFolder}
	}
	return s.categories[s.def]
}

// All returns the categories in configuration order
func (s *CategorySet) All() []Category {
	out := make([]Category, len(s.categories))
	copy(out, s.categories)
	return out
}

// Len returns the number of categories
func (s *CategorySet) Len() int {
	return len(s.categories)
}
