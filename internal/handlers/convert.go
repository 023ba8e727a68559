package handlers

import (
	"time"

	"github.com/wa-console/instance-manager/internal/store/model"
)

// Instance is the JSON view of an instance.
type Instance struct {
	ID           string    `json:"id"`
	InstanceName string    `json:"instanceName"`
	Status       string    `json:"status"`
	QRCode       *string   `json:"qrCode"`
	LastUpdate   time.Time `json:"lastUpdate"`
	Connecting   bool      `json:"connecting"`
	CreateTime   time.Time `json:"createTime"`
	UpdateTime   time.Time `json:"updateTime"`
}

func instanceView(m *model.Instance) Instance {
	return Instance{
		ID:           m.ID.String(),
		InstanceName: m.Name,
		Status:       string(m.Status),
		QRCode:       m.QRImage,
		LastUpdate:   m.LastUpdate,
		Connecting:   m.Status == model.StatusConnecting,
		CreateTime:   m.CreateTime,
		UpdateTime:   m.UpdateTime,
	}
}

func instanceViews(list model.InstanceList) []Instance {
	out := make([]Instance, len(list))
	for i := range list {
		out[i] = instanceView(&list[i])
	}
	return out
}
