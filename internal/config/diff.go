package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	CleanupPromptChanged bool
	NewCleanupPrompt     string

	VocabularyChanged bool
	NewVocabulary     []string

	// RestartRequired lists settings that changed but only take effect after
	// a restart.
	RestartRequired []string
}

// HasChanges reports whether any hot-reloadable field changed.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.CleanupPromptChanged || d.VocabularyChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Transcription.CleanupPrompt != new.Transcription.CleanupPrompt {
		d.CleanupPromptChanged = true
		d.NewCleanupPrompt = new.Transcription.CleanupPrompt
	}
	if !slices.Equal(old.Transcription.Vocabulary, new.Transcription.Vocabulary) {
		d.VocabularyChanged = true
		d.NewVocabulary = slices.Clone(new.Transcription.Vocabulary)
	}

	restart := func(changed bool, field string) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, field)
		}
	}
	restart(old.Server.ListenAddr != new.Server.ListenAddr, "server.listen_addr")
	restart(!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins), "server.allowed_origins")
	restart(old.Server.MaxUploadBytes != new.Server.MaxUploadBytes, "server.max_upload_bytes")
	restart(old.Server.ShutdownTimeout != new.Server.ShutdownTimeout, "server.shutdown_timeout")
	restart(!tlsEqual(old.Server.TLS, new.Server.TLS), "server.tls")
	restart(old.Transcription.Language != new.Transcription.Language, "transcription.language")
	restart(old.Transcription.Correction != new.Transcription.Correction, "transcription.correction")
	if !entryEqual(old.Providers.STT, new.Providers.STT) {
		d.RestartRequired = append(d.RestartRequired, "providers.stt")
	}
	if !entryEqual(old.Providers.LLM, new.Providers.LLM) {
		d.RestartRequired = append(d.RestartRequired, "providers.llm")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Sessions != new.Sessions {
		d.RestartRequired = append(d.RestartRequired, "sessions")
	}
	if old.FAQ != new.FAQ {
		d.RestartRequired = append(d.RestartRequired, "faq")
	}
	return d
}

// entryEqual compares the identifying fields of two provider entries,
// including the names of their fallbacks. Options are not compared.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.Model != b.Model || a.BaseURL != b.BaseURL || a.APIKey != b.APIKey {
		return false
	}
	return slices.EqualFunc(a.Fallbacks, b.Fallbacks, entryEqual)
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
