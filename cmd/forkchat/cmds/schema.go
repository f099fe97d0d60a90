package cmds

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/forkchat/pkg/server"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// schemaTypes lists the API types `forkchat schema` can describe.
var schemaTypes = map[string]interface{}{
	"conversation":        &conversation.Conversation{},
	"message":             &conversation.Message{},
	"branch":              &conversation.Branch{},
	"structure":           &conversation.Structure{},
	"versions":            &conversation.Versions{},
	"edit-result":         &conversation.EditResult{},
	"create-conversation": &server.CreateConversationRequest{},
	"add-message":         &server.AddMessageRequest{},
	"edit-message":        &server.EditMessageRequest{},
	"regenerate":          &server.RegenerateRequest{},
	"fork":                &server.ForkRequest{},
	"rename-branch":       &server.RenameBranchRequest{},
	"error":               &server.ErrorResponse{},
}

func newReflector() *jsonschema.Reflector {
	idType := reflect.TypeOf(conversation.ID{})
	roleType := reflect.TypeOf(conversation.Role{})
	return &jsonschema.Reflector{
		ExpandedStruct: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			switch t {
			case idType:
				return &jsonschema.Schema{Type: "string", Format: "uuid"}
			case roleType:
				return &jsonschema.Schema{
					Type: "string",
					Enum: []interface{}{conversation.RoleUser.String(), conversation.RoleAssistant.String()},
				}
			}
			return nil
		},
	}
}

func NewSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [type]",
		Short: "Print the JSON schema of an API type",
		Long:  "Print the JSON schema of an API type. Without an argument, list the known types.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				names := make([]string, 0, len(schemaTypes))
				for name := range schemaTypes {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}
			v, ok := schemaTypes[args[0]]
			if !ok {
				return errors.Errorf("unknown type %q", args[0])
			}
			schema := newReflector().Reflect(v)
			b, err := json.MarshalIndent(schema, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	}
}
