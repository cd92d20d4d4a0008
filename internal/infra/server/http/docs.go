package httpserver

import (
	"fmt"
	"net/http"
)

func (s *httpServer) serveSwaggerSpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(swaggerSpec))
}

func (s *httpServer) serveSwaggerUI(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != swaggerUIPath {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(swaggerUIHTML))
}

const swaggerSpec = `{
  "openapi": "3.0.3",
  "info": {
    "title": "Finance Ledger API",
    "version": "1.0.0",
    "description": "Accounts, quotes, and trade execution for the portfolio ledger."
  },
  "servers": [
    { "url": "http://localhost:8880", "description": "Local development" }
  ],
  "paths": {
    "/accounts": {
      "post": {
        "summary": "Create an account seeded with the configured starting cash",
        "responses": {
          "201": { "description": "Account created" }
        }
      }
    },
    "/accounts/{id}": {
      "get": {
        "summary": "Get account cash balance",
        "parameters": [
          { "name": "id", "in": "path", "required": true, "schema": { "type": "string" } }
        ],
        "responses": {
          "200": { "description": "Account" },
          "404": { "description": "Account not found" }
        }
      }
    },
    "/accounts/{id}/portfolio": {
      "get": {
        "summary": "Get cash, positions at market price, and total value",
        "parameters": [
          { "name": "id", "in": "path", "required": true, "schema": { "type": "string" } }
        ],
        "responses": {
          "200": { "description": "Portfolio statement" },
          "404": { "description": "Account not found" }
        }
      }
    },
    "/accounts/{id}/history": {
      "get": {
        "summary": "List executed trades, most recent first",
        "parameters": [
          { "name": "id", "in": "path", "required": true, "schema": { "type": "string" } },
          { "name": "symbol", "in": "query", "required": false, "schema": { "type": "string" } }
        ],
        "responses": {
          "200": { "description": "Trade history" }
        }
      }
    },
    "/accounts/{id}/buy": {
      "post": {
        "summary": "Buy whole shares at the current quote",
        "parameters": [
          { "name": "id", "in": "path", "required": true, "schema": { "type": "string" } }
        ],
        "requestBody": {
          "required": true,
          "content": {
            "application/json": {
              "schema": {
                "type": "object",
                "properties": {
                  "symbol": { "type": "string" },
                  "shares": { "type": "integer", "format": "int64" }
                }
              }
            }
          }
        },
        "responses": {
          "201": { "description": "Trade executed" },
          "400": { "description": "Invalid quantity or unknown symbol" },
          "422": { "description": "Insufficient funds" }
        }
      }
    },
    "/accounts/{id}/sell": {
      "post": {
        "summary": "Sell whole shares at the current quote",
        "parameters": [
          { "name": "id", "in": "path", "required": true, "schema": { "type": "string" } }
        ],
        "requestBody": {
          "required": true,
          "content": {
            "application/json": {
              "schema": {
                "type": "object",
                "properties": {
                  "symbol": { "type": "string" },
                  "shares": { "type": "integer", "format": "int64" }
                }
              }
            }
          }
        },
        "responses": {
          "201": { "description": "Trade executed" },
          "400": { "description": "Invalid quantity or unknown symbol" },
          "422": { "description": "Insufficient shares" }
        }
      }
    },
    "/quotes/{symbol}": {
      "get": {
        "summary": "Look up the current price for a symbol",
        "parameters": [
          { "name": "symbol", "in": "path", "required": true, "schema": { "type": "string" } }
        ],
        "responses": {
          "200": { "description": "Quote" },
          "404": { "description": "Unknown symbol" }
        }
      }
    },
    "/healthz": {
      "get": {
        "summary": "Liveness probe",
        "responses": {
          "200": { "description": "Service is up" }
        }
      }
    }
  }
}`

var swaggerUIHTML = fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Finance API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
  <style>
    body { margin:0; background: #fafafa; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.addEventListener('load', function() {
      SwaggerUIBundle({
        url: '%s',
        dom_id: '#swagger-ui',
        presets: [SwaggerUIBundle.presets.apis],
        layout: 'BaseLayout'
      });
    });
  </script>
</body>
</html>`, swaggerSpecPath)
