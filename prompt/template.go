package prompt

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
)

var (
	// ErrTemplateNotFound is returned when neither the requested template
	// nor its fallback exists.
	ErrTemplateNotFound = errors.New("prompt: template not found")

	// ErrUnsupportedLanguage is returned for language codes other than zh and en.
	ErrUnsupportedLanguage = errors.New("prompt: unsupported language")
)

// Supported language codes.
const (
	LangZH = "zh"
	LangEN = "en"
)

//go:embed templates/*.txt
var bundled embed.FS

// Bundled returns the templates shipped with the package.
func Bundled() fs.FS {
	sub, err := fs.Sub(bundled, "templates")
	if err != nil {
		panic(err) // embed path is fixed at compile time
	}
	return sub
}

// Dir opens a template directory on disk. An empty dir selects the bundled
// templates.
func Dir(dir string) fs.FS {
	if dir == "" {
		return Bundled()
	}
	return os.DirFS(dir)
}

// TemplateFile returns the file name of the plain or CoT template for lang.
func TemplateFile(cot bool, lang string) string {
	if cot {
		return "sc_template_cot_" + lang + ".txt"
	}
	return "sc_template_" + lang + ".txt"
}

// Load reads the plain or CoT template for lang from fsys. When the
// requested file is missing, the other language's file is used instead.
func Load(fsys fs.FS, cot bool, lang string) (string, error) {
	var fallback string
	switch lang {
	case LangZH:
		fallback = LangEN
	case LangEN:
		fallback = LangZH
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}

	for _, l := range []string{lang, fallback} {
		name := TemplateFile(cot, l)
		data, err := fs.ReadFile(fsys, name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("reading template %s: %w", name, err)
		}
		if l != lang {
			slog.Warn("prompt: template missing, using fallback language",
				"requested", lang, "fallback", l)
		}
		slog.Debug("prompt: template loaded", "file", name, "chars", len(data))
		return string(data), nil
	}
	return "", fmt.Errorf("%w: %s (fallback %s)", ErrTemplateNotFound,
		TemplateFile(cot, lang), TemplateFile(cot, fallback))
}

// LoadCoTTemplate loads the chain-of-thought template for lang from dir.
func LoadCoTTemplate(dir, lang string) (string, error) {
	return Load(Dir(dir), true, lang)
}
