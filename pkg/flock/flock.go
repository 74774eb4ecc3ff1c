// Package flock drives LLM operations through the engine's Flock extension.
// Every operation is SQL-string construction against an external model server
// (Ollama); there is no model logic here, only careful statement building and
// temp-object hygiene around llm_complete/llm_embedding/llm_reduce.
package flock

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

// Default model server configuration, overridable per setup call.
const (
	DefaultOllamaURL      = "http://localhost:11434"
	DefaultTextModel      = "llama3.1:8b"
	DefaultEmbeddingModel = "mxbai-embed-large"
)

// Aliases under which the configured models are registered with Flock.
const (
	textModelAlias      = "text_generator"
	embeddingModelAlias = "embedder"
)

// FilterResult pairs one input item with the model's yes/no verdict.
type FilterResult struct {
	Item    string `json:"item"`
	Matches bool   `json:"matches"`
}

// Manager holds one in-memory engine connection with Flock loaded.
type Manager struct {
	db   *sql.DB
	Logf func(string, ...any)

	// now stamps temp object names so concurrent invocations cannot collide.
	now func() time.Time
}

// New opens the connection and loads the Flock community extension.
func New() (*Manager, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("flock: opening in-memory engine: %w", err)
	}
	if _, err := db.Exec("INSTALL flock FROM community; LOAD flock;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("flock: loading extension: %w", err)
	}
	return &Manager{db: db, Logf: func(string, ...any) {}, now: time.Now}, nil
}

// Close releases the engine connection.
func (m *Manager) Close() error { return m.db.Close() }

// Ready reports whether the Flock extension is loaded and can enumerate
// models. Callers should refuse LLM subcommands when this is false.
func (m *Manager) Ready() bool {
	var name string
	err := m.db.QueryRow(
		"SELECT extension_name FROM duckdb_extensions() WHERE extension_name = 'flock'").Scan(&name)
	if err != nil {
		return false
	}
	rows, err := m.db.Query("GET MODELS")
	if err != nil {
		return false
	}
	rows.Close()
	return true
}

// SetupOllama registers the model server secret and the text/embedding model
// aliases. Existing secrets and models are tolerated so re-running setup is
// harmless.
func (m *Manager) SetupOllama(url, textModel, embeddingModel string) error {
	if url == "" {
		url = DefaultOllamaURL
	}
	if textModel == "" {
		textModel = DefaultTextModel
	}
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}

	if _, err := m.db.Exec(secretQuery(url)); err != nil {
		m.Logf("ollama secret might already exist: %v", err)
	}

	for alias, spec := range map[string]string{
		textModelAlias:      textModel,
		embeddingModelAlias: embeddingModel,
	} {
		if _, err := m.db.Exec(modelQuery(alias, spec)); err != nil {
			m.Logf("model %s might already exist: %v", alias, err)
		} else {
			m.Logf("registered model %s (%s)", alias, spec)
		}
	}
	return nil
}

// CompleteText generates a completion for prompt via the text model alias.
func (m *Manager) CompleteText(prompt, model string) (string, error) {
	if model == "" {
		model = textModelAlias
	}
	promptName := fmt.Sprintf("temp_prompt_%d", m.now().Unix())

	if _, err := m.db.Exec(createPromptQuery(promptName, "Complete this text: "+prompt)); err != nil {
		return "", fmt.Errorf("flock: creating prompt: %w", err)
	}
	defer m.dropPrompt(promptName)

	var response string
	if err := m.db.QueryRow(completeQuery(model, promptName)).Scan(&response); err != nil {
		return "", fmt.Errorf("flock: text completion (is the model server running?): %w", err)
	}
	return response, nil
}

// GenerateEmbeddings embeds each text through the embedding model alias.
func (m *Manager) GenerateEmbeddings(texts []string, model string) ([][]float64, error) {
	if model == "" {
		model = embeddingModelAlias
	}
	table := fmt.Sprintf("temp_texts_%d", m.now().Unix())

	if _, err := m.db.Exec(fmt.Sprintf("CREATE TABLE %s (id INTEGER, content TEXT)", table)); err != nil {
		return nil, fmt.Errorf("flock: creating temp table: %w", err)
	}
	defer m.db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", table))

	for i, text := range texts {
		if _, err := m.db.Exec(fmt.Sprintf("INSERT INTO %s VALUES (?, ?)", table), i, text); err != nil {
			return nil, fmt.Errorf("flock: inserting text %d: %w", i, err)
		}
	}

	rows, err := m.db.Query(embeddingQuery(model, table))
	if err != nil {
		return nil, fmt.Errorf("flock: embedding generation: %w", err)
	}
	defer rows.Close()

	var embeddings [][]float64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		embeddings = append(embeddings, parseVector(raw))
	}
	return embeddings, rows.Err()
}

// Filter classifies each item against the criteria, returning one verdict per
// item. The model is instructed to answer strictly true/false; anything else
// counts as no match.
func (m *Manager) Filter(criteria string, items []string, model string) ([]FilterResult, error) {
	if model == "" {
		model = textModelAlias
	}
	promptName := fmt.Sprintf("filter_prompt_%d", m.now().Unix())
	promptText := fmt.Sprintf(
		"Classify this text based on the criteria: %s. Return only 'true' or 'false'.", criteria)

	if _, err := m.db.Exec(createPromptQuery(promptName, promptText)); err != nil {
		return nil, fmt.Errorf("flock: creating filter prompt: %w", err)
	}
	defer m.dropPrompt(promptName)

	results := make([]FilterResult, 0, len(items))
	for _, item := range items {
		var verdict string
		err := m.db.QueryRow(completeWithContextQuery(model, promptName), item).Scan(&verdict)
		if err != nil {
			return nil, fmt.Errorf("flock: filtering %q: %w", item, err)
		}
		results = append(results, FilterResult{
			Item:    item,
			Matches: strings.Contains(strings.ToLower(verdict), "true"),
		})
	}
	return results, nil
}

// Summarize reduces the given texts to one summary of at most maxWords words.
// Multiple texts go through llm_reduce for hierarchical reduction; a single
// text is a plain completion.
func (m *Manager) Summarize(texts []string, maxWords int, model string) (string, error) {
	if model == "" {
		model = textModelAlias
	}
	if len(texts) == 0 {
		return "", fmt.Errorf("flock: nothing to summarize")
	}
	if maxWords <= 0 {
		maxWords = 100
	}

	promptName := fmt.Sprintf("summary_prompt_%d", m.now().Unix())
	promptText := fmt.Sprintf(
		"Summarize the following text in %d words or less. Focus on the key points and main ideas.", maxWords)

	if _, err := m.db.Exec(createPromptQuery(promptName, promptText)); err != nil {
		return "", fmt.Errorf("flock: creating summary prompt: %w", err)
	}
	defer m.dropPrompt(promptName)

	if len(texts) == 1 {
		var summary string
		err := m.db.QueryRow(completeWithContextQuery(model, promptName), texts[0]).Scan(&summary)
		if err != nil {
			return "", fmt.Errorf("flock: summarization: %w", err)
		}
		return summary, nil
	}

	table := fmt.Sprintf("temp_summary_%d", m.now().Unix())
	if _, err := m.db.Exec(fmt.Sprintf("CREATE TABLE %s (id INTEGER, content TEXT)", table)); err != nil {
		return "", fmt.Errorf("flock: creating temp table: %w", err)
	}
	defer m.db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", table))

	for i, text := range texts {
		if _, err := m.db.Exec(fmt.Sprintf("INSERT INTO %s VALUES (?, ?)", table), i, text); err != nil {
			return "", fmt.Errorf("flock: inserting text %d: %w", i, err)
		}
	}

	var summary string
	if err := m.db.QueryRow(reduceQuery(model, promptName, table)).Scan(&summary); err != nil {
		return "", fmt.Errorf("flock: hierarchical summarization: %w", err)
	}
	return summary, nil
}

func (m *Manager) dropPrompt(name string) {
	if _, err := m.db.Exec(fmt.Sprintf("DROP PROMPT IF EXISTS %s", name)); err != nil {
		m.Logf("dropping prompt %s: %v", name, err)
	}
}

// --- pure query builders -------------------------------------------------

func secretQuery(url string) string {
	return fmt.Sprintf("CREATE SECRET ollama_secret (TYPE OLLAMA, API_URL %s)", sqlString(url))
}

func modelQuery(alias, spec string) string {
	return fmt.Sprintf(
		"CREATE MODEL(%s, %s, 'ollama', {'tuple_format': 'json', 'batch_size': 32, 'model_parameters': {'temperature': 0.7}})",
		sqlString(alias), sqlString(spec))
}

func createPromptQuery(name, content string) string {
	return fmt.Sprintf("CREATE PROMPT(%s, %s)", sqlString(name), sqlString(content))
}

func completeQuery(model, promptName string) string {
	return fmt.Sprintf(
		"SELECT llm_complete({'model_name': %s}, {'prompt_name': %s})",
		sqlString(model), sqlString(promptName))
}

func completeWithContextQuery(model, promptName string) string {
	return fmt.Sprintf(
		"SELECT llm_complete({'model_name': %s}, {'prompt_name': %s, 'context_columns': [{'data': ?}]})",
		sqlString(model), sqlString(promptName))
}

func embeddingQuery(model, table string) string {
	return fmt.Sprintf(
		"SELECT llm_embedding({'model_name': %s}, {'context_columns': [{'data': content}]})::VARCHAR FROM %s ORDER BY id",
		sqlString(model), table)
}

func reduceQuery(model, promptName, table string) string {
	return fmt.Sprintf(
		"SELECT llm_reduce({'model_name': %s}, {'prompt_name': %s, 'context_columns': [{'data': content}]}) FROM %s",
		sqlString(model), sqlString(promptName), table)
}

// parseVector decodes the engine's list rendering, e.g. "[0.1, 0.2]".
func parseVector(raw string) []float64 {
	raw = strings.Trim(strings.TrimSpace(raw), "[]")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	vec := make([]float64, 0, len(parts))
	for _, p := range parts {
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%g", &f); err == nil {
			vec = append(vec, f)
		}
	}
	return vec
}

func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
