// Package config loads the server configuration.
//
// Sources, lowest precedence first:
//   - built-in defaults (port 8080, tenant "business", language "en",
//     30s health cache, 5s probe timeout, 30s proxy timeout)
//   - the YAML file given by --config (`server:` and `log:` sections)
//   - an optional .env file, loaded into the process environment
//   - API_CONFIGS, DEFAULT_TENANT, DEFAULT_LANGUAGE and HTTP_PORT
//
// Load(path) applies defaults before unmarshalling, then the environment,
// then validates. Watch re-runs Load when either file changes so the API
// registry can be reloaded without a restart.
package config
