package models

import "time"

type StatusMessageBuilder struct {
	msg *StatusMessage
}

func NewStatusMessageBuilder() *StatusMessageBuilder {
	return &StatusMessageBuilder{
		msg: &StatusMessage{
			Modules: make([]ModuleUpdate, 0),
		},
	}
}

func (b *StatusMessageBuilder) WithPackageID(packageID string) *StatusMessageBuilder {
	b.msg.PackageID = packageID
	return b
}

func (b *StatusMessageBuilder) WithModule(moduleCategoryID, moduleState string) *StatusMessageBuilder {
	b.msg.Modules = append(b.msg.Modules, ModuleUpdate{
		ModuleCategoryID: moduleCategoryID,
		ModuleState:      moduleState,
	})
	return b
}

func (b *StatusMessageBuilder) WithTimestamp(timestamp time.Time) *StatusMessageBuilder {
	b.msg.TimestampUtc = timestamp.UTC()
	return b
}

// Build fills the sentinel package id and the observation time when they were
// not provided. The builder must not be reused after Build.
func (b *StatusMessageBuilder) Build() *StatusMessage {
	if b.msg.PackageID == "" {
		b.msg.PackageID = UnknownPackageID
	}
	if b.msg.TimestampUtc.IsZero() {
		b.msg.TimestampUtc = time.Now().UTC()
	}
	return b.msg
}
