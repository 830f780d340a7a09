package report

import (
	"encoding/json"
	"os"

	"example.com/flightlog/internal/txtlog"
)

func SaveFlightJSON(res *txtlog.Result, out string) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadFlightJSON(path string) (*txtlog.Result, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var res txtlog.Result
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
