package target

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MaxDestinations is the upper bound on destination IPs per target.
const MaxDestinations = 4

// Target represents a parsed host specification: one remote server to open a
// session on, plus the destination IPs it will be instructed to ping.
type Target struct {
	User         string   // SSH username
	Password     string   // SSH password (may be empty when using keys/agent)
	Host         string   // Hostname or IP address
	Port         int      // SSH port number
	IdentityFile string   // Path to SSH private key file
	Label        string   // Optional operator label for the target
	Destinations []string // Destination IPs to ping from this host (1-4)
	Original     string   // Original host specification string
}

// Key returns a stable identifier for one (target, destination) stream.
func (t Target) Key(destination string) string {
	return fmt.Sprintf("%s@%s:%d->%s", t.User, t.Host, t.Port, destination)
}

// Name returns the label when set, otherwise the host.
func (t Target) Name() string {
	if t.Label != "" {
		return t.Label
	}
	return t.Host
}

// Parser defines the interface for parsing and validating target specifications
type Parser interface {
	// ParseHosts parses comma-separated inline target specifications
	ParseHosts(input string) ([]Target, error)

	// ParseHostFile reads target specifications from a file (one per line)
	ParseHostFile(filename string) ([]Target, error)

	// ParseCSVFile reads targets from a tabular CSV file
	// (host,user,pass,dip1..dip4 columns)
	ParseCSVFile(filename string) ([]Target, error)

	// ParseStdin reads target specifications from stdin
	ParseStdin() ([]Target, error)

	// ValidateTarget validates a target for security and correctness
	ValidateTarget(target Target) error
}

// DefaultParser implements the Parser interface
type DefaultParser struct{}

// NewParser creates a new DefaultParser instance
func NewParser() Parser {
	return &DefaultParser{}
}

// ParseHostSpec parses a single target specification in the format
// "user@host:port=dip1+dip2?key=path&label=name&pass=secret"
func ParseHostSpec(spec string) (Target, error) {
	target := Target{
		Original: spec,
		Port:     22, // Default SSH port
	}

	if strings.TrimSpace(spec) == "" {
		return target, fmt.Errorf("empty target specification")
	}

	// Split on '?' to separate host part from query parameters
	parts := strings.SplitN(spec, "?", 2)
	hostPart := parts[0]

	if len(parts) == 2 {
		values, err := url.ParseQuery(parts[1])
		if err != nil {
			return target, fmt.Errorf("invalid query parameters: %w", err)
		}
		if key := values.Get("key"); key != "" {
			target.IdentityFile = key
		}
		if label := values.Get("label"); label != "" {
			target.Label = label
		}
		if pass := values.Get("pass"); pass != "" {
			target.Password = pass
		}
	}

	// Split off the destination list after '='
	var destPart string
	if idx := strings.Index(hostPart, "="); idx != -1 {
		destPart = hostPart[idx+1:]
		hostPart = hostPart[:idx]
	}
	for _, dest := range strings.Split(destPart, "+") {
		dest = strings.TrimSpace(dest)
		if dest != "" {
			target.Destinations = append(target.Destinations, dest)
		}
	}

	// Parse user@host:port format
	var userHost string
	if strings.Contains(hostPart, "@") {
		userHostParts := strings.SplitN(hostPart, "@", 2)
		target.User = userHostParts[0]
		userHost = userHostParts[1]
	} else {
		userHost = hostPart
	}

	// Parse host:port
	var host string
	var portStr string

	// Handle IPv6 addresses in brackets
	if strings.HasPrefix(userHost, "[") {
		// IPv6 format: [::1]:2222
		closeBracket := strings.Index(userHost, "]")
		if closeBracket == -1 {
			return target, fmt.Errorf("invalid IPv6 address format: missing closing bracket")
		}

		host = userHost[1:closeBracket] // Remove brackets
		remainder := userHost[closeBracket+1:]

		if strings.HasPrefix(remainder, ":") {
			portStr = remainder[1:]
		}
	} else {
		// IPv4 or hostname format
		if strings.Contains(userHost, ":") {
			hostPortParts := strings.SplitN(userHost, ":", 2)
			host = hostPortParts[0]
			portStr = hostPortParts[1]
		} else {
			host = userHost
		}
	}

	target.Host = host

	if portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return target, fmt.Errorf("invalid port number '%s': %w", portStr, err)
		}
		if port < 1 || port > 65535 {
			return target, fmt.Errorf("port number %d out of valid range (1-65535)", port)
		}
		target.Port = port
	}

	if err := ValidateTarget(target); err != nil {
		return target, fmt.Errorf("validation failed: %w", err)
	}

	return target, nil
}

// ValidateTarget validates a target for security and correctness
func ValidateTarget(target Target) error {
	if target.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	// Use net.JoinHostPort for security validation to prevent injection attacks
	hostPort := net.JoinHostPort(target.Host, strconv.Itoa(target.Port))
	if hostPort == "" {
		return fmt.Errorf("invalid host:port combination")
	}

	if len(target.Destinations) == 0 {
		return fmt.Errorf("target %s has no destination IPs", target.Host)
	}
	if len(target.Destinations) > MaxDestinations {
		return fmt.Errorf("target %s has %d destination IPs (maximum %d)",
			target.Host, len(target.Destinations), MaxDestinations)
	}
	for _, dest := range target.Destinations {
		if strings.TrimSpace(dest) == "" {
			return fmt.Errorf("target %s has an empty destination IP", target.Host)
		}
	}

	// Validate identity file path if specified
	if target.IdentityFile != "" {
		if !filepath.IsAbs(target.IdentityFile) {
			absPath, err := filepath.Abs(target.IdentityFile)
			if err != nil {
				return fmt.Errorf("invalid identity file path '%s': %w", target.IdentityFile, err)
			}
			target.IdentityFile = absPath
		}

		if _, err := os.Stat(target.IdentityFile); err != nil {
			return fmt.Errorf("identity file '%s' not accessible: %w", target.IdentityFile, err)
		}
	}

	return nil
}

// ParseHosts parses comma-separated inline target specifications
func (p *DefaultParser) ParseHosts(input string) ([]Target, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("empty hosts input")
	}

	specs := strings.Split(input, ",")
	targets := make([]Target, 0, len(specs))

	for i, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue // Skip empty entries
		}

		target, err := ParseHostSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("error parsing target %d ('%s'): %w", i+1, spec, err)
		}

		targets = append(targets, target)
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("no valid targets found in input")
	}

	return targets, nil
}

// ParseHostFile reads target specifications from a file (one per line)
func (p *DefaultParser) ParseHostFile(filename string) ([]Target, error) {
	if filename == "" {
		return nil, fmt.Errorf("filename cannot be empty")
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open host file '%s': %w", filename, err)
	}
	defer file.Close()

	return p.parseFromReader(file)
}

// ParseStdin reads target specifications from stdin
func (p *DefaultParser) ParseStdin() ([]Target, error) {
	return p.parseFromReader(os.Stdin)
}

// parseFromReader reads target specifications from any io.Reader (one per line)
func (p *DefaultParser) parseFromReader(reader io.Reader) ([]Target, error) {
	scanner := bufio.NewScanner(reader)
	targets := make([]Target, 0)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		target, err := ParseHostSpec(line)
		if err != nil {
			return nil, fmt.Errorf("error parsing line %d ('%s'): %w", lineNum, line, err)
		}

		targets = append(targets, target)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading input: %w", err)
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("no valid targets found in input")
	}

	return targets, nil
}

// ParseCSVFile reads targets from a tabular CSV configuration file. The first
// row is a header; recognized columns are host (or ip), user, pass, port,
// label, key, and dip1..dip4 for destination IPs. Unknown columns are
// ignored. Rows without a host or without any destination are skipped.
func (p *DefaultParser) ParseCSVFile(filename string) ([]Target, error) {
	if filename == "" {
		return nil, fmt.Errorf("filename cannot be empty")
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open target file '%s': %w", filename, err)
	}
	defer file.Close()

	return p.parseCSV(file)
}

func (p *DefaultParser) parseCSV(reader io.Reader) ([]Target, error) {
	r := csv.NewReader(reader)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1 // rows may omit trailing destination columns

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("error reading CSV input: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("CSV input has no data rows")
	}

	// Map column names to indexes from the header row
	columns := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}

	hostCol, ok := columns["host"]
	if !ok {
		hostCol, ok = columns["ip"]
	}
	if !ok {
		return nil, fmt.Errorf("CSV input missing required 'host' (or 'ip') column")
	}

	field := func(row []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	targets := make([]Target, 0, len(records)-1)
	for rowNum, row := range records[1:] {
		if hostCol >= len(row) {
			continue
		}
		host := strings.TrimSpace(row[hostCol])
		if host == "" {
			continue // skip blank rows
		}

		target := Target{
			Host:     host,
			Port:     22,
			User:     "root",
			Original: strings.Join(row, ","),
		}

		if user := field(row, "user"); user != "" {
			target.User = user
		}
		target.Password = field(row, "pass")
		target.Label = field(row, "label")
		if key := field(row, "key"); key != "" {
			target.IdentityFile = key
		}
		if portStr := field(row, "port"); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil || port < 1 || port > 65535 {
				return nil, fmt.Errorf("row %d: invalid port '%s'", rowNum+2, portStr)
			}
			target.Port = port
		}

		for i := 1; i <= MaxDestinations; i++ {
			if dest := field(row, fmt.Sprintf("dip%d", i)); dest != "" {
				target.Destinations = append(target.Destinations, dest)
			}
		}
		if len(target.Destinations) == 0 {
			continue // nothing to probe from this host
		}

		if err := ValidateTarget(target); err != nil {
			return nil, fmt.Errorf("row %d: validation failed: %w", rowNum+2, err)
		}

		targets = append(targets, target)
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("no valid targets found in CSV input")
	}

	return targets, nil
}

// ValidateTarget validates a target for security and correctness
func (p *DefaultParser) ValidateTarget(target Target) error {
	return ValidateTarget(target)
}

// TotalStreams counts (target, destination) pairs across the list.
func TotalStreams(targets []Target) int {
	total := 0
	for _, t := range targets {
		total += len(t.Destinations)
	}
	return total
}
