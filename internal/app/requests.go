package app

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"taskboard/api/internal/store"
)

const (
	maxBoardName       = 60
	maxColumnName      = 20
	maxTaskName        = 120
	maxTaskDescription = 2000
	maxSubtaskName     = 120
)

type fieldErrors map[string]string

func (f fieldErrors) err(message string) error {
	if len(f) == 0 {
		return nil
	}
	return validationError(message, map[string]string(f))
}

func checkName(errs fieldErrors, field, value string, max int) string {
	trimmed := strings.TrimSpace(value)
	if n := utf8.RuneCountInString(trimmed); n < 1 || n > max {
		errs[field] = "must be between 1 and " + strconv.Itoa(max) + " characters"
	}
	return trimmed
}

func checkUUID(errs fieldErrors, field, value string) string {
	trimmed := strings.TrimSpace(value)
	if _, err := uuid.Parse(trimmed); err != nil {
		errs[field] = "must be a valid UUID"
	}
	return trimmed
}

// parsePosition accepts integral JSON numbers only. Range is not checked
// here: out of range positions are clamped by the ordering rules.
func parsePosition(errs fieldErrors, raw *json.Number) *int {
	if raw == nil {
		return nil
	}
	value, err := strconv.Atoi(raw.String())
	if err != nil {
		errs["position"] = "must be an integer"
		return nil
	}
	return &value
}

type BoardColumnInput struct {
	UUID  string `json:"uuid,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type CreateBoardRequest struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

func (r *CreateBoardRequest) Validate() error {
	errs := fieldErrors{}
	r.Name = checkName(errs, "name", r.Name, maxBoardName)
	seen := map[string]bool{}
	for i := range r.Columns {
		r.Columns[i] = checkName(errs, "columns", r.Columns[i], maxColumnName)
		key := store.NameKey(r.Columns[i])
		if seen[key] {
			return conflict(duplicateColumnMessage)
		}
		seen[key] = true
	}
	return errs.err("Invalid board")
}

// UpdateBoardRequest renames a board and, when Columns is present, replaces
// its column set: the array order becomes the column order, columns left
// out are deleted and entries without a uuid are created.
type UpdateBoardRequest struct {
	Name    *string             `json:"name"`
	Columns *[]BoardColumnInput `json:"columns"`
}

func (r *UpdateBoardRequest) Validate() error {
	errs := fieldErrors{}
	if r.Name == nil && r.Columns == nil {
		return validationError("No data to update", nil)
	}
	if r.Name != nil {
		name := checkName(errs, "name", *r.Name, maxBoardName)
		r.Name = &name
	}
	if r.Columns != nil {
		columns := *r.Columns
		seen := map[string]bool{}
		for i := range columns {
			columns[i].Name = checkName(errs, "columns", columns[i].Name, maxColumnName)
			if columns[i].UUID != "" {
				columns[i].UUID = checkUUID(errs, "columns", columns[i].UUID)
			}
			key := store.NameKey(columns[i].Name)
			if seen[key] {
				return conflict(duplicateColumnMessage)
			}
			seen[key] = true
		}
	}
	return errs.err("Invalid board")
}

type CreateColumnRequest struct {
	BoardUUID string       `json:"board_uuid"`
	Name      string       `json:"name"`
	Color     string       `json:"color"`
	Position  *json.Number `json:"position"`

	position *int
}

func (r *CreateColumnRequest) Validate() error {
	errs := fieldErrors{}
	r.BoardUUID = checkUUID(errs, "board_uuid", r.BoardUUID)
	r.Name = checkName(errs, "name", r.Name, maxColumnName)
	r.Color = strings.TrimSpace(r.Color)
	r.position = parsePosition(errs, r.Position)
	if _, ok := errs["name"]; ok {
		return validationError("Column name must be between 1 and 20 characters", map[string]string(errs))
	}
	return errs.err("Invalid column")
}

type UpdateColumnRequest struct {
	Name     *string      `json:"name"`
	Color    *string      `json:"color"`
	Position *json.Number `json:"position"`

	position *int
}

func (r *UpdateColumnRequest) Validate() error {
	if r.Name == nil && r.Color == nil && r.Position == nil {
		return validationError("No data to update", nil)
	}
	errs := fieldErrors{}
	if r.Name != nil {
		name := checkName(errs, "name", *r.Name, maxColumnName)
		r.Name = &name
	}
	if r.Color != nil {
		color := strings.TrimSpace(*r.Color)
		r.Color = &color
	}
	r.position = parsePosition(errs, r.Position)
	if _, ok := errs["name"]; ok {
		return validationError("Column name must be between 1 and 20 characters", map[string]string(errs))
	}
	return errs.err("Invalid column")
}

type SubtaskInput struct {
	UUID      string `json:"uuid,omitempty"`
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
}

func checkSubtasks(errs fieldErrors, subtasks []SubtaskInput) {
	for i := range subtasks {
		subtasks[i].Name = checkName(errs, "subtasks", subtasks[i].Name, maxSubtaskName)
		if subtasks[i].UUID != "" {
			subtasks[i].UUID = checkUUID(errs, "subtasks", subtasks[i].UUID)
		}
	}
}

type CreateTaskRequest struct {
	ColumnUUID  string         `json:"column_uuid"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Position    *json.Number   `json:"position"`
	Subtasks    []SubtaskInput `json:"subtasks"`

	position *int
}

func (r *CreateTaskRequest) Validate() error {
	errs := fieldErrors{}
	r.ColumnUUID = checkUUID(errs, "column_uuid", r.ColumnUUID)
	r.Name = checkName(errs, "name", r.Name, maxTaskName)
	if utf8.RuneCountInString(r.Description) > maxTaskDescription {
		errs["description"] = "must be at most " + strconv.Itoa(maxTaskDescription) + " characters"
	}
	r.position = parsePosition(errs, r.Position)
	checkSubtasks(errs, r.Subtasks)
	return errs.err("Invalid task")
}

type UpdateTaskRequest struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	ColumnUUID  *string         `json:"column_uuid"`
	Position    *json.Number    `json:"position"`
	Subtasks    *[]SubtaskInput `json:"subtasks"`

	position *int
}

func (r *UpdateTaskRequest) Validate() error {
	if r.Name == nil && r.Description == nil && r.ColumnUUID == nil && r.Position == nil && r.Subtasks == nil {
		return validationError("No data to update", nil)
	}
	errs := fieldErrors{}
	if r.Name != nil {
		name := checkName(errs, "name", *r.Name, maxTaskName)
		r.Name = &name
	}
	if r.Description != nil && utf8.RuneCountInString(*r.Description) > maxTaskDescription {
		errs["description"] = "must be at most " + strconv.Itoa(maxTaskDescription) + " characters"
	}
	if r.ColumnUUID != nil {
		columnUUID := checkUUID(errs, "column_uuid", *r.ColumnUUID)
		r.ColumnUUID = &columnUUID
	}
	r.position = parsePosition(errs, r.Position)
	if r.Subtasks != nil {
		checkSubtasks(errs, *r.Subtasks)
	}
	return errs.err("Invalid task")
}

// UserWebhook is the identity provider's user.created / user.updated payload.
type UserWebhook struct {
	Type string `json:"type"`
	Data struct {
		ID             string `json:"id"`
		FirstName      string `json:"first_name"`
		ImageURL       string `json:"image_url"`
		EmailAddresses []struct {
			EmailAddress string `json:"email_address"`
		} `json:"email_addresses"`
	} `json:"data"`
}

func (r *UserWebhook) Validate() error {
	errs := fieldErrors{}
	if strings.TrimSpace(r.Data.ID) == "" {
		errs["data.id"] = "is required"
	}
	if len(r.Data.EmailAddresses) == 0 || strings.TrimSpace(r.Data.EmailAddresses[0].EmailAddress) == "" {
		errs["data.email_addresses"] = "at least one email address is required"
	}
	return errs.err("Invalid user payload")
}
