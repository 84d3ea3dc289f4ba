/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package malloc

type options struct {
	logger       *Logger
	storage      Storage
	initHook     func(b *Buffer, cache any)
	cacheContext func() any
}

func defaultOptions() options {
	return options{
		logger:  NoopLogger(),
		storage: HeapStorage{},
	}
}

// Option configures an Arena.
type Option func(o *options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithStorage sets the provider of chunk memory. The default is HeapStorage.
func WithStorage(s Storage) Option {
	return func(o *options) {
		if s != nil {
			o.storage = s
		}
	}
}

// WithInitHook sets a func called every time a Buffer is bound to new memory,
// with the cache context of the allocating caller.
func WithInitHook(f func(b *Buffer, cache any)) Option {
	return func(o *options) {
		o.initHook = f
	}
}

// WithCacheContext sets a func returning the cache context handed to the
// init hook. It is called once per allocation.
func WithCacheContext(f func() any) Option {
	return func(o *options) {
		o.cacheContext = f
	}
}
