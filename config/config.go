// Config loads configuration.
package config

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
)

const Version = "0.3"

// GetInt loads the environment variable varName, converts it to an integer,
// and returns that integer or an error.
func GetInt(varName string) (int, error) {
	envVar := os.Getenv(varName)
	return strconv.Atoi(envVar)
}

// GetString loads the environment variable varName, or returns def if it is
// unset or empty.
func GetString(varName string, def string) string {
	envVar := os.Getenv(varName)
	if envVar == "" {
		return def
	}
	return envVar
}

// GetURLOrBail parses the URL in the environment variable urlEnvVar, and
// exits the process if it is missing or unparseable.
func GetURLOrBail(urlEnvVar string) *url.URL {
	rawURL := os.Getenv(urlEnvVar)
	if rawURL == "" {
		log.Fatal(fmt.Errorf("No URL configured. Please set %s", urlEnvVar))
	}
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		log.Fatalf("Invalid url: %s. %s\n", rawURL, err.Error())
	}
	return parsedURL
}

// SetMaxIdleConnsPerHost sets the MaxIdleConnsPerHost value for the default
// HTTP transport. If you are using a custom transport, calling this function
// won't change anything.
func SetMaxIdleConnsPerHost(maxConns int) {
	http.DefaultTransport.(*http.Transport).MaxIdleConnsPerHost = maxConns
}
