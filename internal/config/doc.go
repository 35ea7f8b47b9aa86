// Package config loads the observe.json configuration of the observe
// command.
//
// A configuration file is optional. Every field has a default and most can
// be overridden from the environment with an OBSERVE_ prefix:
//
//	{
//	  "server": {"addr": ":8080", "max_sessions": 10000, "read_timeout": "60s"},
//	  "storage": {"driver": "sqlite", "dsn": "file:observe.db"},
//	  "metrics": {"namespace": "observe"},
//	  "log": {"level": "info", "format": "text"}
//	}
//
// S3 credentials are never read from the file; set OBSERVE_S3_ACCESS_KEY_ID
// and OBSERVE_S3_SECRET_ACCESS_KEY or rely on the default AWS credential
// chain.
package config
