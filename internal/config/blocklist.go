package config

// DefaultURLBlocklist returns host fragments the local classifier treats as
// adult sites. A URL matches when its host contains any entry.
func DefaultURLBlocklist() []string {
	return []string{
		"porn",
		"xvideos",
		"xnxx",
		"redtube",
		"xhamster",
		"youporn",
		"onlyfans",
	}
}

// DefaultTextKeywords returns the keyword list used by the local text
// classifier. Matching is case-insensitive on word boundaries.
func DefaultTextKeywords() []string {
	return []string{
		"xxx",
		"sex",
		"porn",
		"nude",
		"boobs",
		"nsfw",
		"x-rated",
	}
}
