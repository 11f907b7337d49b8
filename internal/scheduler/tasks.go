package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskTicketEmail = "tickets.email"

type TicketEmailPayload struct {
	DetailID int64 `json:"detailId"`
}

func NewTicketEmailTask(payload TicketEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTicketEmail, data), nil
}

func ParseTicketEmailPayload(task *asynq.Task) (TicketEmailPayload, error) {
	var payload TicketEmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TicketEmailPayload{}, err
	}
	return payload, nil
}
