// Package config provides configuration for the game hub server.
//
// The config package handles:
//   - Server settings parsed from GAMEHUB_* environment variables
//   - Session templates loaded from JSON files
//
// Server Settings:
//
// Load parses Config with caarlos0/env and validates it. main loads a .env
// file first and lets command-line flags override individual fields.
//
// Templates:
//
// A template is a named starting document for new sessions, stored as
// <name>.json in the templates directory:
//
//	{
//	  "name": "Tic-tac-toe",
//	  "description": "Empty 3x3 board",
//	  "can_undo": true,
//	  "data": {"board": ["   ", "   ", "   "], "turn": "x"}
//	}
//
// Usage:
//
//	manager, err := config.NewManager("templates")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	tmpl, err := manager.LoadTemplate("tictactoe")
//	doc := tmpl.Document([]string{"alice", "bob"})
//
//	// List available templates
//	templates, err := manager.ListTemplates()
package config
