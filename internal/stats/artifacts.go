// Package stats writes per-session artifact directories and the session
// index that the command-line tools list and export from.
package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"mnemosyne/internal/model"
)

const sessionIndexFile = "session_index.json"

// SessionArtifacts is everything one editing session leaves on disk:
// the attachment configuration, the per-example audit records, and the
// aggregate summary.
type SessionArtifacts struct {
	Summary model.SessionSummary `json:"summary"`
	Records []model.EditRecord   `json:"records"`
	Config  map[string]any       `json:"config"`
}

// SessionIndexEntry is one row of the session index, newest first.
type SessionIndexEntry struct {
	SessionID    string `json:"session_id"`
	Mode         string `json:"mode"`
	Batches      int    `json:"batches"`
	Examples     int    `json:"examples"`
	Clusters     int    `json:"clusters"`
	Conflicts    int    `json:"conflicts"`
	CreatedAtUTC string `json:"created_at_utc"`
}

// WriteSessionArtifacts materializes the session directory under baseDir
// and returns its path.
func WriteSessionArtifacts(baseDir string, artifacts SessionArtifacts) (string, error) {
	if artifacts.Summary.ID == "" {
		return "", fmt.Errorf("session id is required")
	}

	sessionDir := filepath.Join(baseDir, artifacts.Summary.ID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(sessionDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(sessionDir, "summary.json"), artifacts.Summary); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(sessionDir, "edit_records.json"), artifacts.Records); err != nil {
		return "", err
	}
	if err := writeDistanceSeries(sessionDir, artifacts.Records); err != nil {
		return "", err
	}

	return sessionDir, nil
}

// AppendSessionIndex inserts or replaces the index entry for a session.
func AppendSessionIndex(baseDir string, entry SessionIndexEntry) error {
	if entry.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListSessionIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].SessionID == entry.SessionID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, sessionIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, sessionIndexFile), index)
}

// ListSessionIndex returns the index entries newest first. Equal timestamps
// keep later appended entries ahead.
func ListSessionIndex(baseDir string) ([]SessionIndexEntry, error) {
	path := filepath.Join(baseDir, sessionIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []SessionIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []SessionIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry SessionIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]SessionIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportSessionArtifacts copies one session directory under outDir.
func ExportSessionArtifacts(baseDir, sessionID, outDir string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", fmt.Errorf("session id is required")
	}

	src := filepath.Join(baseDir, sessionID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, sessionID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{"config.json", "summary.json", "edit_records.json"} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	seriesPath := filepath.Join(src, "distance_series.csv")
	if _, err := os.Stat(seriesPath); err == nil {
		if err := copyFile(seriesPath, filepath.Join(dst, "distance_series.csv")); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	return dst, nil
}

// ReadSessionSummary loads a session's summary from its artifact directory.
func ReadSessionSummary(baseDir, sessionID string) (model.SessionSummary, bool, error) {
	path := filepath.Join(baseDir, sessionID, "summary.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.SessionSummary{}, false, nil
		}
		return model.SessionSummary{}, false, err
	}

	var summary model.SessionSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.SessionSummary{}, false, err
	}
	return summary, true, nil
}

// ReadEditRecords loads a session's audit records from its artifact
// directory.
func ReadEditRecords(baseDir, sessionID string) ([]model.EditRecord, bool, error) {
	path := filepath.Join(baseDir, sessionID, "edit_records.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var records []model.EditRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, false, err
	}
	return records, true, nil
}

// writeDistanceSeries records, per example, how far its key fell from the
// nearest cluster at decision time. Useful for tuning the initial radius.
func writeDistanceSeries(sessionDir string, records []model.EditRecord) error {
	path := filepath.Join(sessionDir, "distance_series.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"seq", "action", "distance"}); err != nil {
		return err
	}
	for _, record := range records {
		if err := writer.Write([]string{
			strconv.Itoa(record.Seq),
			record.Action,
			strconv.FormatFloat(record.Distance, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadDistanceSeries loads the per-example distance column.
func ReadDistanceSeries(baseDir, sessionID string) ([]float64, bool, error) {
	path := filepath.Join(baseDir, sessionID, "distance_series.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 3 {
		return nil, false, fmt.Errorf("distance series header must have at least 3 columns")
	}

	series := make([]float64, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 3 {
			return nil, false, fmt.Errorf("distance series row must have at least 3 columns")
		}
		value, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
