package collect

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// HartreeToKcal converts Hartree to kcal/mol.
const HartreeToKcal = 627.5094740631

// ReadEnergy reads the total energy in Hartree from a TURBOMOLE-style
// energy file: second line, second column.
func ReadEnergy(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if line < 2 {
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			return 0, &EnergyError{Path: path, Reason: "second line has fewer than two columns"}
		}
		e, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0, &EnergyError{Path: path, Reason: fmt.Sprintf("%q is not a number", fields[1])}
		}
		return e, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, &EnergyError{Path: path, Reason: "file has fewer than two lines"}
}

// Properties holds the molecule metadata written next to the conformer
// manifest during ensemble generation.
type Properties struct {
	Charge int `json:"charge"`
	Natoms int `json:"natoms"`
	Nconf  int `json:"nconf"`
}

const propertiesFile = "conformer.json"

// ReadProperties loads conformer.json from molDir. Without it the charge
// is taken from the first .CHRG found in chargeDirs, defaulting to neutral.
func ReadProperties(molDir string, chargeDirs []string) (Properties, error) {
	var p Properties
	data, err := os.ReadFile(filepath.Join(molDir, propertiesFile))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &p); err != nil {
			return p, fmt.Errorf("parsing %s: %w", filepath.Join(molDir, propertiesFile), err)
		}
		return p, nil
	case !os.IsNotExist(err):
		return p, err
	}

	for _, dir := range append([]string{molDir}, chargeDirs...) {
		raw, err := os.ReadFile(filepath.Join(dir, ".CHRG"))
		if err != nil {
			continue
		}
		fields := strings.Fields(string(raw))
		if len(fields) == 0 {
			continue
		}
		q, err := strconv.Atoi(fields[0])
		if err != nil {
			return p, fmt.Errorf("parsing %s: %w", filepath.Join(dir, ".CHRG"), err)
		}
		p.Charge = q
		break
	}
	p.Nconf = len(chargeDirs)
	return p, nil
}
