package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"sigs.k8s.io/yaml"
)

// Resource is a management object described in a YAML file.
type Resource struct {
	Kind string          `json:"kind" yaml:"kind"`
	Spec json.RawMessage `json:"spec" yaml:"spec"`
}

// LoadResourceFromFile loads a resource from a YAML or JSON file.
func LoadResourceFromFile(filename string) (*Resource, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %v", err)
	}
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML to JSON: %v", err)
	}
	var resource Resource
	if err := json.Unmarshal(jsonData, &resource); err != nil {
		return nil, fmt.Errorf("failed to parse resource: %v", err)
	}
	if resource.Kind == "" {
		return nil, fmt.Errorf("kind is required")
	}
	if len(resource.Spec) == 0 || !gjson.ValidBytes(resource.Spec) {
		return nil, fmt.Errorf("spec is required")
	}
	return &resource, nil
}

// GetResourceType returns the management API collection of a kind.
func GetResourceType(kind string) (string, error) {
	switch kind {
	case "Domain":
		return "domains", nil
	case "Remote":
		return "remotes", nil
	case "Repository":
		return "repositories", nil
	case "Distribution":
		return "distributions", nil
	default:
		return "", fmt.Errorf("unknown resource kind: %s", kind)
	}
}

// references lists the fields of a resource body holding the name or id of another
// object, and the collection it lives in.
var references = map[string]string{
	"remote":     "remotes",
	"repository": "repositories",
}

// resolveReferences replaces object names in a resource body with their ids.
func resolveReferences(spec []byte) ([]byte, error) {
	for field, kind := range references {
		v := gjson.GetBytes(spec, field)
		if v.Type != gjson.String {
			continue
		}
		id, err := resolveID(kind, v.String())
		if err != nil {
			return nil, err
		}
		if spec, err = sjson.SetBytes(spec, field, id); err != nil {
			return nil, err
		}
	}
	return spec, nil
}

var applyFile string

var applyCmd = &cobra.Command{
	Use:   "apply -f FILENAME",
	Short: "Create an object from a file",
	Long: `Create a domain, remote, repository or distribution from a YAML file. The
kind field selects the object, spec holds its fields. Remotes and repositories
referenced by name are resolved to their ids.

Example file:
  kind: Distribution
  spec:
    name: community
    base_path: community
    repository: community`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resource, err := LoadResourceFromFile(applyFile)
		if err != nil {
			return err
		}
		collection, err := GetResourceType(resource.Kind)
		if err != nil {
			return err
		}
		spec, err := resolveReferences(resource.Spec)
		if err != nil {
			return err
		}
		body, err := send(http.MethodPost, mgmt(collection), spec)
		if err != nil {
			return err
		}
		printObject(cmd.OutOrStdout(), body, "pulp_href", "id", "name")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().StringVarP(&applyFile, "filename", "f", "", "Resource file")
	applyCmd.MarkFlagRequired("filename")
}
