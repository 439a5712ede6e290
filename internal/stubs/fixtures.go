package stubs

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Rajchodisetti/chatgw/internal/api"
	"github.com/Rajchodisetti/chatgw/internal/gateway"
)

// Fixtures is the world a stub gateway serves: the READY payload and each
// channel's REST history, newest first.
type Fixtures struct {
	Token    string                   `json:"token"`
	Ready    gateway.ReadyData        `json:"ready"`
	Messages map[api.ID][]api.Message `json:"messages"`
}

// LoadFixtures reads fixtures from a JSON file
func LoadFixtures(path string) (Fixtures, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Fixtures{}, fmt.Errorf("read fixtures: %w", err)
	}
	var f Fixtures
	if err := json.Unmarshal(b, &f); err != nil {
		return Fixtures{}, fmt.Errorf("parse fixtures: %w", err)
	}
	return f, nil
}

// DefaultFixtures is a small guild with two text channels and one DM
func DefaultFixtures() Fixtures {
	self := api.User{ID: "100", Username: "me", Discriminator: "0001"}
	alice := api.User{ID: "101", Username: "alice", Discriminator: "0002"}
	bob := api.User{ID: "102", Username: "bob", Discriminator: "0003"}

	guild := gateway.GuildCreateData{
		Guild: api.Guild{
			ID:   "200",
			Name: "gophers",
			Roles: []api.Role{
				{ID: "200", Name: "@everyone", Position: 0},
				{ID: "210", Name: "mods", Color: 0x3498db, Position: 2},
				{ID: "211", Name: "regulars", Color: 0x2ecc71, Position: 1},
			},
		},
		Members: []api.Member{
			{User: &self, Roles: []api.ID{"211"}},
			{User: &alice, Nick: "al", Roles: []api.ID{"210", "211"}},
		},
		Channels: []api.Channel{
			{ID: "300", Type: api.ChannelGuildCategory, Name: "text", Position: 0},
			{ID: "301", Type: api.ChannelGuildText, Name: "general", ParentID: "300", Position: 1},
			{ID: "302", Type: api.ChannelGuildText, Name: "random", ParentID: "300", Position: 2, Topic: "anything"},
		},
		Threads: []api.Channel{
			{ID: "310", Type: api.ChannelGuildPublicThread, Name: "release planning", ParentID: "301"},
		},
	}

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ts := func(min int) string { return base.Add(time.Duration(min) * time.Minute).Format(time.RFC3339) }

	return Fixtures{
		Token: "stub-token",
		Ready: gateway.ReadyData{
			Version: 9,
			User:    self,
			Guilds:  []gateway.GuildCreateData{guild},
			PrivateChannels: []api.Channel{
				{ID: "400", Type: api.ChannelDirectMessage, RecipientIDs: []api.ID{"102"}},
			},
			Users: []api.User{bob},
		},
		Messages: map[api.ID][]api.Message{
			"301": {
				{ID: "503", ChannelID: "301", Author: bob, Content: "new here", Timestamp: ts(3)},
				{ID: "502", ChannelID: "301", Author: alice, Content: "welcome", Timestamp: ts(2)},
				{ID: "501", ChannelID: "301", Author: self, Content: "hello", Timestamp: ts(1)},
			},
			"302": {},
			"400": {
				{ID: "601", ChannelID: "400", Author: bob, Content: "hey", Timestamp: ts(5)},
			},
		},
	}
}
