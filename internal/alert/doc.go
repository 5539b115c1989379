// Package alert turns fired entries into channel deliveries (popup, sound,
// OS notification, window flash) and turns user responses back into
// orchestrator commands.
//
// Rendering is one-way: channels emit commands through a Renderer (the event
// bus for the platform shell, the log when headless) and never wait for the
// user. Responses arrive through Dispatcher.HandleAction.
package alert
