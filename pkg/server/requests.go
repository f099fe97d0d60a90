package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-playground/validator/v10"
)

type CreateConversationRequest struct {
	Title string `json:"title" validate:"max=200"`
}

type AddMessageRequest struct {
	ParentID conversation.ID `json:"parentId,omitempty"`
	Role     string          `json:"role" validate:"required,oneof=user assistant"`
	Content  string          `json:"content" validate:"required"`
}

type EditMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// RegenerateRequest leaves Content empty to have the responder write the
// new reply.
type RegenerateRequest struct {
	Content string `json:"content,omitempty"`
}

type ForkRequest struct {
	FromMessageID conversation.ID `json:"fromMessageId" validate:"required"`
	Name          string          `json:"name,omitempty" validate:"max=100"`
}

type RenameBranchRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type DeleteBranchResponse struct {
	RemovedIDs []conversation.ID `json:"removedIds"`
}

type ConversationList struct {
	Conversations []*conversation.Conversation `json:"conversations"`
}

type BranchList struct {
	Branches []*conversation.Branch `json:"branches"`
}

type ActivePathResponse struct {
	Messages conversation.Thread `json:"messages"`
}

var validate = validator.New()

// decode reads a JSON body into v and validates its tags. On failure it has
// already written the response.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			writeBadRequest(w, CodeBadRequest, "invalid request body: "+err.Error())
			return false
		}
	}
	if err := validate.Struct(v); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: formatValidationError(err),
			Code:  CodeValidation,
		})
		return false
	}
	return true
}

func formatValidationError(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(e.Field()[:1]) + e.Field()[1:]
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, e.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
		}
	}
	return strings.Join(msgs, "; ")
}
