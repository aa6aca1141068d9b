package files

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"trivia-bingo/internal/domain"
	"trivia-bingo/internal/logger"
)

// DirLoader reads a question bank laid out as <dir>/<category>/<file>.json|.yaml.
type DirLoader struct {
	dir      string
	logger   *slog.Logger
	validate *validator.Validate
}

type bankFile struct {
	Preguntas []bankEntry `json:"preguntas" yaml:"preguntas"`
}

type bankEntry struct {
	Pregunta          string   `json:"pregunta" yaml:"pregunta" validate:"required"`
	Opciones          []string `json:"opciones" yaml:"opciones" validate:"min=2,dive,required"`
	RespuestaCorrecta string   `json:"respuesta_correcta" yaml:"respuesta_correcta" validate:"required"`
}

func NewDirLoader(dir string, log *slog.Logger) *DirLoader {
	if log == nil {
		log = logger.Discard()
	}
	return &DirLoader{dir: dir, logger: log, validate: validator.New()}
}

// LoadBank returns one record per bank file. Unreadable files and invalid
// entries are skipped with a warning.
func (l *DirLoader) LoadBank(ctx context.Context) ([]domain.BankRecord, error) {
	categories, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read bank dir: %w", err)
	}

	var records []domain.BankRecord
	for _, cat := range categories {
		if !cat.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(l.dir, cat.Name()))
		if err != nil {
			l.logger.Warn("skipping category", "category", cat.Name(), "err", err)
			continue
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if entry.IsDir() || !supported(entry.Name()) {
				continue
			}
			path := filepath.Join(l.dir, cat.Name(), entry.Name())
			rec, err := l.loadFile(cat.Name(), path)
			if err != nil {
				l.logger.Warn("skipping bank file", "file", path, "err", err)
				continue
			}
			records = append(records, rec)
		}
	}
	l.logger.Info("question bank loaded", "dir", l.dir, "files", len(records))
	return records, nil
}

func (l *DirLoader) loadFile(category, path string) (domain.BankRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.BankRecord{}, err
	}
	var file bankFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &file)
	default:
		err = yaml.Unmarshal(data, &file)
	}
	if err != nil {
		return domain.BankRecord{}, fmt.Errorf("parse: %w", err)
	}

	rec := domain.BankRecord{Category: category, Source: filepath.Base(path)}
	for i, e := range file.Preguntas {
		if err := l.validate.Struct(e); err != nil {
			l.logger.Warn("skipping invalid question", "file", path, "index", i, "err", err)
			continue
		}
		rec.Questions = append(rec.Questions, domain.BankQuestion{
			Text:          e.Pregunta,
			Options:       e.Opciones,
			CorrectAnswer: e.RespuestaCorrecta,
		})
	}
	return rec, nil
}

func supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
