package importer

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TimestampLayout is the layout used when a record carries no timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// Record is one detection to submit.
type Record struct {
	FileHash  string
	Timestamp string
}

// ReadRecords reads records from filePath. Files ending in .csv are parsed
// as file_hash,timestamp rows; anything else is one hash per line.
// Records without a timestamp get now formatted with TimestampLayout.
func ReadRecords(filePath string, now time.Time) ([]Record, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	defaultTimestamp := now.Format(TimestampLayout)
	if strings.EqualFold(filepath.Ext(filePath), ".csv") {
		return ReadCSV(file, defaultTimestamp)
	}
	return ReadTxt(file, defaultTimestamp)
}

// ReadCSV reads file_hash,timestamp rows. There is no header; rows whose
// first field starts with # are skipped.
func ReadCSV(r io.Reader, defaultTimestamp string) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	var records []Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading CSV: %w", err)
		}
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}

		record := Record{
			FileHash:  strings.TrimSpace(row[0]),
			Timestamp: defaultTimestamp,
		}
		if len(row) > 1 && strings.TrimSpace(row[1]) != "" {
			record.Timestamp = strings.TrimSpace(row[1])
		}
		records = append(records, record)
	}

	return records, nil
}

// ReadTxt reads one hash per line, ignoring blank lines and # comments.
func ReadTxt(r io.Reader, defaultTimestamp string) ([]Record, error) {
	var records []Record

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		records = append(records, Record{FileHash: line, Timestamp: defaultTimestamp})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return records, nil
}
