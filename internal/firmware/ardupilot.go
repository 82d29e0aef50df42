package firmware

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ArduPilotManifestURL is the public gzipped manifest ArduPilot publishes
// for every released build across every board and vehicle.
const ArduPilotManifestURL = "https://firmware.ardupilot.org/manifest.json.gz"

// apManifest mirrors the subset of ArduPilot's manifest.json this system
// reads; the real document carries many more fields we don't use.
type apManifest struct {
	Releases []apRelease `json:"releases"`
}

type apRelease struct {
	MavAutopilot string `json:"mav-autopilot"`
	VehicleType  string `json:"vehicletype"`
	Platform     string `json:"platform"`
	BoardID      int    `json:"board_id"`
	ReleaseType  string `json:"release-type"`
	Version      string `json:"firmware-version"`
	URL          string `json:"url"`
	GitSha       string `json:"git-sha"`
	Latest       bool   `json:"latest"`
}

// ArduPilotSource fetches and caches the gzipped manifest.json catalogue.
type ArduPilotSource struct {
	client *http.Client
	url    string

	cached *apManifest
}

// NewArduPilotSource builds a source using client (http.DefaultClient if
// nil) against the given manifest URL (ArduPilotManifestURL if empty).
func NewArduPilotSource(client *http.Client, url string) *ArduPilotSource {
	if client == nil {
		client = http.DefaultClient
	}
	if url == "" {
		url = ArduPilotManifestURL
	}
	return &ArduPilotSource{client: client, url: url}
}

func (s *ArduPilotSource) fetch(ctx context.Context) (*apManifest, error) {
	if s.cached != nil {
		return s.cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, &ErrManifestUnreachable{Source: SourceArduPilot, Err: err}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &ErrManifestUnreachable{Source: SourceArduPilot, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &ErrManifestUnreachable{Source: SourceArduPilot, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, &ErrManifestUnreachable{Source: SourceArduPilot, Err: err}
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, &ErrManifestUnreachable{Source: SourceArduPilot, Err: err}
	}

	var m apManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ErrManifestUnreachable{Source: SourceArduPilot, Err: err}
	}
	s.cached = &m
	return &m, nil
}

// normalizeVehicle collapses VTOL->Plane and Boat->Rover per spec.md §4.7.
func normalizeVehicle(raw string) Vehicle {
	switch strings.ToUpper(raw) {
	case "COPTER", "HELI":
		return VehicleCopter
	case "PLANE", "VTOL":
		return VehiclePlane
	case "ROVER", "BOAT":
		return VehicleRover
	case "SUB", "SUBMARINE":
		return VehicleSub
	default:
		return Vehicle(raw)
	}
}

// Versions returns every FirmwareVersion for vehicle/boardID in manifest
// order (no sorting is applied), filtered by mav-autopilot so 3rd-party
// forks sharing the same manifest format aren't included.
func (s *ArduPilotSource) Versions(ctx context.Context, vehicle Vehicle, boardID int) ([]FirmwareVersion, error) {
	m, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	var out []FirmwareVersion
	for _, r := range m.Releases {
		if !strings.HasPrefix(r.MavAutopilot, "ArduPilot") {
			continue
		}
		if normalizeVehicle(r.VehicleType) != vehicle {
			continue
		}
		if r.BoardID != boardID {
			continue
		}
		out = append(out, FirmwareVersion{
			Version:     r.Version,
			ReleaseType: releaseTypeOf(r.ReleaseType),
			DownloadURL: r.URL,
			GitHash:     r.GitSha,
			Latest:      r.Latest,
		})
	}
	if len(out) == 0 {
		return nil, &ErrNoMatchingBoard{Source: SourceArduPilot, Query: fmt.Sprintf("%s board_id=%d", vehicle, boardID)}
	}
	return out, nil
}

func releaseTypeOf(raw string) ReleaseType {
	switch strings.ToUpper(raw) {
	case "STABLE":
		return ReleaseStable
	case "BETA":
		return ReleaseBeta
	default:
		return ReleaseDev
	}
}

// Boards lists every distinct (platform, board_id) pair the manifest
// carries for vehicle, used to populate fetchBoards(source, vehicle).
func (s *ArduPilotSource) Boards(ctx context.Context, vehicle Vehicle) ([]Board, error) {
	m, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []Board
	for _, r := range m.Releases {
		if !strings.HasPrefix(r.MavAutopilot, "ArduPilot") {
			continue
		}
		if normalizeVehicle(r.VehicleType) != vehicle {
			continue
		}
		key := fmt.Sprintf("%s:%d", r.Platform, r.BoardID)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Board{
			ID:       key,
			Name:     r.Platform,
			Category: string(vehicle),
			Source:   SourceArduPilot,
			BoardID:  r.BoardID,
		})
	}
	return out, nil
}
