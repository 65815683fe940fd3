/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package viper narrows github.com/spf13/viper down to the subset of methods
// a command-line entrypoint needs to bind flags and read back config values,
// so callers depend on an interface instead of the concrete *viper.Viper.
package viper

import (
	"io"

	spfflg "github.com/spf13/pflag"
	spfvpr "github.com/spf13/viper"
)

// Viper is the configuration accessor handed to a CLI entrypoint through
// cobra.SetViper. Implementations are free to back it with any source, but
// New wires up github.com/spf13/viper directly.
type Viper interface {
	SetConfigFile(file string)
	SetConfigType(typ string)
	AddConfigPath(path string)
	ReadConfig(in io.Reader) error
	ReadInConfig() error
	BindPFlag(key string, flag *spfflg.Flag) error

	Get(key string) interface{}
	GetString(key string) string
	GetBool(key string) bool
	GetInt(key string) int
	GetStringSlice(key string) []string
	IsSet(key string) bool

	Set(key string, value interface{})
	AllSettings() map[string]interface{}
	Unmarshal(rawVal interface{}) error
}

type wrapper struct {
	v *spfvpr.Viper
}

// New wraps a fresh *viper.Viper instance behind the Viper interface.
func New() Viper {
	return &wrapper{v: spfvpr.New()}
}

func (w *wrapper) SetConfigFile(file string) { w.v.SetConfigFile(file) }
func (w *wrapper) SetConfigType(typ string)  { w.v.SetConfigType(typ) }
func (w *wrapper) AddConfigPath(path string) { w.v.AddConfigPath(path) }
func (w *wrapper) ReadConfig(in io.Reader) error {
	return w.v.ReadConfig(in)
}
func (w *wrapper) ReadInConfig() error { return w.v.ReadInConfig() }

func (w *wrapper) BindPFlag(key string, flag *spfflg.Flag) error {
	return w.v.BindPFlag(key, flag)
}

func (w *wrapper) Get(key string) interface{}         { return w.v.Get(key) }
func (w *wrapper) GetString(key string) string        { return w.v.GetString(key) }
func (w *wrapper) GetBool(key string) bool            { return w.v.GetBool(key) }
func (w *wrapper) GetInt(key string) int              { return w.v.GetInt(key) }
func (w *wrapper) GetStringSlice(key string) []string { return w.v.GetStringSlice(key) }
func (w *wrapper) IsSet(key string) bool              { return w.v.IsSet(key) }

func (w *wrapper) Set(key string, value interface{})   { w.v.Set(key, value) }
func (w *wrapper) AllSettings() map[string]interface{} { return w.v.AllSettings() }
func (w *wrapper) Unmarshal(rawVal interface{}) error  { return w.v.Unmarshal(rawVal) }
